//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/sh"
)

// Variables
const (
	binaryDir = "bin"
	goFlags   = "-v"
	ldFlags   = "-s -w"
)

// All builds everything.
func All() error {
	return Build()
}

// ============================================================================
// Build targets
// ============================================================================

// Build builds the login flow service.
func Build() error {
	fmt.Println("Building loginflow...")
	if err := os.MkdirAll(binaryDir, 0755); err != nil {
		return err
	}
	return sh.Run("go", "build", goFlags, "-ldflags", ldFlags, "-o", filepath.Join(binaryDir, "loginflow"), "./cmd/loginflow")
}

// ============================================================================
// Development targets
// ============================================================================

// Run runs the login flow service locally.
func Run() error {
	return sh.Run("go", "run", "./cmd/loginflow")
}

// ============================================================================
// Testing
// ============================================================================

// Test runs all tests.
func Test() error {
	return sh.Run("go", "test", "-v", "-race", "-cover", "./...")
}

// TestUnit runs unit tests only.
func TestUnit() error {
	return sh.Run("go", "test", "-v", "-race", "-cover", "-short", "./...")
}

// TestCoverage generates test coverage report.
func TestCoverage() error {
	if err := sh.Run("go", "test", "-v", "-race", "-coverprofile=coverage.out", "./..."); err != nil {
		return err
	}
	if err := sh.Run("go", "tool", "cover", "-html=coverage.out", "-o", "coverage.html"); err != nil {
		return err
	}
	fmt.Println("Coverage report generated: coverage.html")
	return nil
}

// Bench runs benchmarks.
func Bench() error {
	return sh.Run("go", "test", "-bench=.", "-benchmem", "./...")
}

// ============================================================================
// Code quality
// ============================================================================

// Lint runs the linter.
func Lint() error {
	return sh.Run("golangci-lint", "run", "./...")
}

// Fmt formats code.
func Fmt() error {
	if err := sh.Run("go", "fmt", "./..."); err != nil {
		return err
	}
	return sh.Run("gofumpt", "-l", "-w", ".")
}

// Vet runs go vet.
func Vet() error {
	return sh.Run("go", "vet", "./...")
}

// Tidy tidies and verifies go modules.
func Tidy() error {
	if err := sh.Run("go", "mod", "tidy"); err != nil {
		return err
	}
	return sh.Run("go", "mod", "verify")
}

// ============================================================================
// Database
// ============================================================================

// MigrateCreate creates a new migration (usage: mage migrateCreate name=migration_name).
func MigrateCreate() error {
	name := os.Getenv("name")
	if name == "" {
		return fmt.Errorf("name parameter is required (usage: mage migrateCreate name=migration_name)")
	}
	fmt.Printf("Creating migration: %s\n", name)
	return sh.Run("migrate", "create", "-ext", "sql", "-dir", "migrations", "-seq", name)
}

// ============================================================================
// Security
// ============================================================================

// SecurityScan runs security scanner.
func SecurityScan() error {
	return sh.Run("gosec", "./...")
}

// ============================================================================
// Cleanup
// ============================================================================

// Clean cleans build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	_ = os.Remove("coverage.out")
	_ = os.Remove("coverage.html")
	return sh.Run("go", "clean", "-cache")
}

// ============================================================================
// Installation
// ============================================================================

// InstallTools installs development tools.
func InstallTools() error {
	fmt.Println("Installing development tools...")
	tools := []struct {
		name   string
		module string
	}{
		{"golangci-lint", "github.com/golangci/golangci-lint/cmd/golangci-lint@latest"},
		{"gofumpt", "mvdan.cc/gofumpt@latest"},
		{"gosec", "github.com/securego/gosec/v2/cmd/gosec@latest"},
		{"migrate", "github.com/golang-migrate/migrate/v4/cmd/migrate@latest"},
	}

	for _, tool := range tools {
		args := []string{"install"}
		if tool.name == "migrate" {
			args = append(args, "-tags", "postgres")
		}
		args = append(args, tool.module)
		if err := sh.Run("go", args...); err != nil {
			return err
		}
	}
	return nil
}

// Deps downloads dependencies.
func Deps() error {
	return sh.Run("go", "mod", "download")
}
