package config

import "fmt"

func errNotPow2(field string) error {
	return fmt.Errorf("config: %s must be a power of two", field)
}

func errRange(field string) error {
	return fmt.Errorf("config: %s out of range", field)
}
