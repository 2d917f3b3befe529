package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/casbin/casbin/v2/model"
	"github.com/oarkflow/squealx"
	"github.com/pmezard/go-difflib/difflib"
	_ "modernc.org/sqlite"

	"github.com/altlock/authkit"
	"github.com/altlock/authkit/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "validate":
		handleValidate()
	case "diff":
		handleDiff()
	case "versions":
		handleVersions()
	case "publish":
		handlePublish()
	case "rollback":
		handleRollback()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("authkit-model - Model configuration tool for authkit")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  authkit-model validate <file>              - Validate a casbin model file")
	fmt.Println("  authkit-model diff <file-a> <file-b>       - Unified diff between two model files")
	fmt.Println("  authkit-model versions <db>                - List model versions in a sqlite database")
	fmt.Println("  authkit-model publish <db> <id> <approver> - Activate a version")
	fmt.Println("  authkit-model rollback <db> <id> <approver> - Reactivate an archived version")
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: authkit-model validate <file>")
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[2])
	if err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		os.Exit(1)
	}
	if _, err := model.NewModelFromString(string(data)); err != nil {
		fmt.Printf("Invalid model: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Model is valid")
}

func handleDiff() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: authkit-model diff <file-a> <file-b>")
		os.Exit(1)
	}

	a, err := os.ReadFile(os.Args[2])
	if err != nil {
		fmt.Printf("Error reading %s: %v\n", os.Args[2], err)
		os.Exit(1)
	}
	b, err := os.ReadFile(os.Args[3])
	if err != nil {
		fmt.Printf("Error reading %s: %v\n", os.Args[3], err)
		os.Exit(1)
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: os.Args[2],
		ToFile:   os.Args[3],
		Context:  3,
	})
	if err != nil {
		fmt.Printf("Error diffing: %v\n", err)
		os.Exit(1)
	}
	if diff == "" {
		fmt.Println("Files are identical")
		return
	}
	fmt.Print(diff)
}

func handleVersions() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: authkit-model versions <db>")
		os.Exit(1)
	}

	v := openVersioner(os.Args[2])
	versions, err := v.List(context.Background())
	if err != nil {
		fmt.Printf("Error listing versions: %v\n", err)
		os.Exit(1)
	}
	if len(versions) == 0 {
		fmt.Println("No model versions stored")
		return
	}
	for _, mc := range versions {
		fmt.Println(mc.Summary())
	}
}

func handlePublish() {
	if len(os.Args) < 5 {
		fmt.Println("Usage: authkit-model publish <db> <id> <approver>")
		os.Exit(1)
	}

	v := openVersioner(os.Args[2])
	mc, err := v.Publish(context.Background(), os.Args[3], os.Args[4])
	if err != nil {
		fmt.Printf("Error publishing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Published %s\n", mc.Summary())
}

func handleRollback() {
	if len(os.Args) < 5 {
		fmt.Println("Usage: authkit-model rollback <db> <id> <approver>")
		os.Exit(1)
	}

	v := openVersioner(os.Args[2])
	mc, err := v.Rollback(context.Background(), os.Args[3], os.Args[4])
	if err != nil {
		fmt.Printf("Error rolling back: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Rolled back to %s\n", mc.Summary())
}

func openVersioner(path string) *authkit.Versioner {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	db := squealx.NewDb(sqlDB, "sqlite", "authkit")
	if err := stores.Migrate(db); err != nil {
		fmt.Printf("Error migrating database: %v\n", err)
		os.Exit(1)
	}
	v, err := authkit.NewVersioner(stores.NewSQLModelConfigStore(db))
	if err != nil {
		fmt.Printf("Error building versioner: %v\n", err)
		os.Exit(1)
	}
	return v
}
