//go:build mage
// +build mage

package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
	_ "modernc.org/sqlite"
)

// Build builds the protoloop binary
func Build() error {
	mg.Deps(Lint, Test)

	fmt.Println("Building protoloop...")
	return sh.RunV("go", "build",
		"-o", "bin/protoloop",
		"-ldflags", "-s -w",
		".")
}

// Test runs all Go tests with race detection and coverage
func Test() error {
	fmt.Println("Running Go tests...")
	return sh.RunV("go", "test", "-v", "-race", "-coverprofile=coverage.out", "./...")
}

// Lint runs golangci-lint
func Lint() error {
	fmt.Println("Running linters...")
	return sh.RunV("golangci-lint", "run")
}

// LintFix runs linters with auto-fix
func LintFix() error {
	fmt.Println("Running linters with auto-fix...")
	return sh.RunV("golangci-lint", "run", "--fix")
}

// Check runs lint + test + build
func Check() error {
	mg.Deps(Lint, Test, Build)
	fmt.Println("✅ All checks passed")
	return nil
}

// Inspect prints a summary of the current project's session database
func Inspect() error {
	dbPath := filepath.Join(".protoloop", "protoloop.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("%s not found: run a prototype session first", dbPath)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT session_id, status, iterations, created_at
		FROM sessions ORDER BY created_at DESC LIMIT 20
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	fmt.Println("Recent sessions:")
	for rows.Next() {
		var id, status string
		var iterations, createdAt int64
		if err := rows.Scan(&id, &status, &iterations, &createdAt); err != nil {
			return err
		}
		fmt.Printf("  %s  %-10s  %d iteration(s)\n", id, status, iterations)
	}
	return rows.Err()
}

// Clean removes build artifacts
func Clean() error {
	fmt.Println("Cleaning...")
	os.RemoveAll("bin")
	os.RemoveAll("coverage.out")
	return nil
}

// Run builds and runs protoloop against the current directory
func Run() error {
	mg.Deps(Build)
	return sh.RunV("./bin/protoloop", "prototype", ".")
}
