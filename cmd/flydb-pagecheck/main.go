/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
flydb-pagecheck - FlyDB Paged Storage Diagnostic Tool

This tool opens a data/log file pair read-only (recovery still runs
against the log, but no writer goroutines start) and reports page
counts, confirmed-transaction count, and write-ahead log health. It is
a narrow storage-debugging tool, not the SQL shell the original spec
keeps out of scope.

Usage:
    flydb-pagecheck --dir /var/lib/flydb --base flydb.data
    flydb-pagecheck --dir /var/lib/flydb --base flydb.data --json
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/firefly-oss/flydb-pagefile/internal/config"
	"github.com/firefly-oss/flydb-pagefile/internal/logging"
	"github.com/firefly-oss/flydb-pagefile/internal/storage/pagefile"
)

const (
	version   = "1.0.0"
	copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."
)

// ANSI color codes
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
)

func main() {
	// FLYDB_DATA_DIR, FLYDB_PASSPHRASE, and FLYDB_LOG_LEVEL seed the
	// defaults so the tool works against a node's environment unchanged;
	// flags still win.
	mgr := config.Global()
	mgr.LoadFromEnv()
	cfg := mgr.Get()
	defaultDir := cfg.DataDir
	if os.Getenv(config.EnvDataDir) == "" {
		defaultDir = "."
	}
	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)

	dir := flag.String("dir", defaultDir, "Directory holding the data/log file pair")
	base := flag.String("base", "flydb.data", "Base file name (the log is <base>.wal)")
	passphrase := flag.String("passphrase", cfg.Passphrase, "Passphrase, if the file pair is encrypted")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	help := flag.Bool("help", false, "Show help")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(help, "h", false, "Show help")
	flag.BoolVar(showVersion, "v", false, "Show version information")

	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if !*jsonOutput {
		printBanner()
	}

	report, err := inspect(*dir, *base, *passphrase)
	if err != nil {
		if *jsonOutput {
			data, _ := json.MarshalIndent(map[string]string{"error": err.Error()}, "", "  ")
			fmt.Println(string(data))
		} else {
			fmt.Fprintf(os.Stderr, "%s%s✗%s pagecheck failed: %v\n", red, bold, reset, err)
		}
		os.Exit(1)
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return
	}
	printHuman(report)
}

// pageReport summarizes one data/log file pair's health.
type pageReport struct {
	DataDir         string `json:"data_dir"`
	DataFileBytes   int64  `json:"data_file_bytes"`
	DataFilePages   int64  `json:"data_file_pages"`
	LastConfirmedTx uint64 `json:"last_confirmed_tx"`
	PendingLogPages int    `json:"pending_log_pages"`
	BufferPoolPages int    `json:"buffer_pool_pages"`
	Encrypted       bool   `json:"encrypted"`
}

func inspect(dir, base, passphrase string) (*pageReport, error) {
	disk := pagefile.NewOSDiskFactory(dir, base)
	if !disk.Exists() {
		return nil, fmt.Errorf("no data file at %s/%s", dir, base)
	}

	opts := pagefile.DefaultOptions()
	opts.ReadOnly = true
	if passphrase != "" {
		opts.Encryption = pagefile.EncryptionOptions{Enabled: true, Passphrase: passphrase}
	}

	f, err := pagefile.OpenMemoryFile(disk, opts)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Dispose()

	length, err := f.Length()
	if err != nil {
		return nil, fmt.Errorf("stat data file: %w", err)
	}

	return &pageReport{
		DataDir:         dir,
		DataFileBytes:   length,
		DataFilePages:   length / pagefile.PageSize,
		LastConfirmedTx: f.WALCoordinator().LastConfirmedTx(),
		PendingLogPages: f.WALCoordinator().PendingPageCount(),
		BufferPoolPages: f.MemoryBufferSize(),
		Encrypted:       passphrase != "",
	}, nil
}

func printBanner() {
	fmt.Println()
	fmt.Printf("%s%s", cyan, bold)
	fmt.Println("  ██████╗  █████╗  ██████╗ ███████╗ ██████╗██╗  ██╗███████╗ ██████╗██╗  ██╗")
	fmt.Println("  ██╔══██╗██╔══██╗██╔════╝ ██╔════╝██╔════╝██║  ██║██╔════╝██╔════╝██║ ██╔╝")
	fmt.Println("  ██████╔╝███████║██║  ███╗█████╗  ██║     ███████║█████╗  ██║     █████╔╝ ")
	fmt.Println("  ██╔═══╝ ██╔══██║██║   ██║██╔══╝  ██║     ██╔══██║██╔══╝  ██║     ██╔═██╗ ")
	fmt.Println("  ██║     ██║  ██║╚██████╔╝███████╗╚██████╗██║  ██║███████╗╚██████╗██║  ██╗")
	fmt.Println("  ╚═╝     ╚═╝  ╚═╝ ╚═════╝ ╚══════╝ ╚═════╝╚═╝  ╚═╝╚══════╝ ╚═════╝╚═╝  ╚═╝")
	fmt.Printf("%s\n", reset)
	fmt.Printf("  %s%sFlyDB Pagecheck%s %sv%s%s\n", green, bold, reset, dim, version, reset)
	fmt.Printf("  %sPaged Storage Diagnostic Tool%s\n\n", dim, reset)
}

func printVersion() {
	fmt.Println()
	fmt.Printf("  %s%sFlyDB Pagecheck%s %sv%s%s\n", cyan, bold, reset, dim, version, reset)
	fmt.Printf("  %sPaged Storage Diagnostic Tool%s\n\n", dim, reset)
	fmt.Printf("  %s%s%s\n\n", dim, copyright, reset)
}

func printUsage() {
	printBanner()
	fmt.Printf("%s  Opens a data/log file pair read-only, runs the normal crash-recovery%s\n", dim, reset)
	fmt.Printf("%s  scan against the log, and reports page counts and WAL health.%s\n\n", dim, reset)

	fmt.Printf("%sUsage:%s flydb-pagecheck [options]\n\n", bold, reset)

	fmt.Printf("%s%sOPTIONS%s\n\n", bold, cyan, reset)
	fmt.Printf("    %s--dir%s <path>          Directory holding the file pair (default: .)\n", green, reset)
	fmt.Printf("    %s--base%s <name>         Base file name, log is <name>.wal (default: flydb.data)\n", green, reset)
	fmt.Printf("    %s--passphrase%s <pass>   Passphrase, if the file pair is encrypted\n", green, reset)
	fmt.Printf("    %s--json%s               Output as JSON\n", green, reset)
	fmt.Printf("    %s--version%s, %s-v%s        Show version information\n", green, reset, green, reset)
	fmt.Printf("    %s--help%s, %s-h%s           Show this help message\n\n", green, reset, green, reset)

	fmt.Printf("%s%sEXAMPLES%s\n\n", bold, cyan, reset)
	fmt.Printf("%s    # Check a database in its default location%s\n", dim, reset)
	fmt.Println("    flydb-pagecheck --dir /var/lib/flydb")
	fmt.Println()
	fmt.Printf("%s    # Get machine-readable output for monitoring%s\n", dim, reset)
	fmt.Println("    flydb-pagecheck --dir /var/lib/flydb --json")
	fmt.Println()
}

func printHuman(r *pageReport) {
	fmt.Printf("%s%s✓%s Inspected %s%s%s\n\n", green, bold, reset, cyan, r.DataDir, reset)
	fmt.Printf("      %sData file size:%s      %d bytes (%d pages)\n", dim, reset, r.DataFileBytes, r.DataFilePages)
	fmt.Printf("      %sLast confirmed tx:%s   %d\n", dim, reset, r.LastConfirmedTx)
	fmt.Printf("      %sPending log pages:%s   %d\n", dim, reset, r.PendingLogPages)
	fmt.Printf("      %sBuffer pool pages:%s   %d\n", dim, reset, r.BufferPoolPages)
	fmt.Printf("      %sEncrypted:%s           %v\n", dim, reset, r.Encrypted)

	if r.PendingLogPages > 0 {
		fmt.Printf("\n%s%s⚠%s %d confirmed log page(s) have not been migrated by a checkpoint yet.\n",
			yellow, bold, reset, r.PendingLogPages)
	}
	fmt.Println()
}
