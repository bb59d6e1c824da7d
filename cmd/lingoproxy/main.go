package main

import (
	"fmt"
	"os"

	"github.com/allaspectsdev/lingoproxy/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "cleanup":
		cmdCleanup(os.Args[2:])
	case "vacuum":
		cmdVacuum(os.Args[2:])
	case "migrate":
		cmdMigrate(os.Args[2:])
	case "config-export":
		cmdConfigExport(os.Args[2:])
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: lingoproxy <command> [options]

Commands:
  serve            Start the translation proxy server
  cleanup          Delete cache entries not accessed recently
  vacuum           Reclaim unused database space (VACUUM + ANALYZE)
  migrate          Apply pending schema migrations
  config-export    Export the effective config to a TOML file
  version          Print version information
  help             Show this help message

Options:
  --config PATH    Config file (with 'serve'; default ./lingoproxy.toml)
  --days N         Age threshold in days (with 'cleanup'; default 90)
  --dry-run        Count without deleting (with 'cleanup')`)
}
