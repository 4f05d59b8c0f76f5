package main

import "testing"

func TestValidateStatic(t *testing.T) {
	if err := validateStatic(); err != nil {
		t.Fatalf("validateStatic() = %v, want nil", err)
	}
}
