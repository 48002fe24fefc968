package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("✅ Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	// Header
	content.WriteString("# =============================================================================\n")
	content.WriteString("# Karaoke Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	content.WriteString("# Format: KARAOKE_<SETTING>=value\n")
	content.WriteString("# CLI equivalent: --<setting>\n")
	content.WriteString("#\n")
	content.WriteString("# =============================================================================\n\n")

	generateSection(&content, cmd, "Store", []string{"store-driver", "store-path"})
	generateSection(&content, cmd, "Catalog", []string{"catalog-dir"})
	generateSection(&content, cmd, "Party Limits", []string{
		"history-limit",
		"top-played-limit",
		"max-active-parties",
		"disabled-write-timeout-secs",
	})
	generateSection(&content, cmd, "Flood Prevention - Anti-spam protection", []string{"request-limit-per-minute"})
	generateSection(&content, cmd, "Localization", []string{"language"})
	generateSection(&content, cmd, "HTTP Server Configuration", []string{"server-host", "server-port"})
	generateSection(&content, cmd, "Logging Configuration", []string{"log-level", "log-format"})
	generateQuickSetupGuide(&content)

	return content.String()
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func getDefaultValueString(cmd *cobra.Command, flagName string) string {
	if f := cmd.PersistentFlags().Lookup(flagName); f != nil {
		return f.DefValue
	}
	return ""
}

func getUsage(cmd *cobra.Command, flagName string) string {
	if f := cmd.PersistentFlags().Lookup(flagName); f != nil {
		return f.Usage
	}
	return ""
}

func generateSection(content *strings.Builder, cmd *cobra.Command, title string, flags []string) {
	content.WriteString("# -----------------------------------------------------------------------------\n")
	fmt.Fprintf(content, "# %s\n", title)
	content.WriteString("# -----------------------------------------------------------------------------\n")
	fmt.Fprintf(content, "# CLI: --%s\n", strings.Join(flags, ", --"))

	for _, name := range flags {
		def := getDefaultValueString(cmd, name)
		fmt.Fprintf(content, "%s=%s    # %s (default: %s)\n",
			flagToEnvVar(name), def, getUsage(cmd, name), def)
	}
	content.WriteString("\n")
}

func generateQuickSetupGuide(content *strings.Builder) {
	content.WriteString("# =============================================================================\n")
	content.WriteString("# QUICK SETUP GUIDE\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("\n")
	content.WriteString("# 1. Point KARAOKE_CATALOG_DIR at a folder of \"Artist - Title.mp4\" files\n")
	content.WriteString("# 2. Use KARAOKE_STORE_DRIVER=sqlite to keep parties across restarts\n")
	content.WriteString("# 3. Run:\n")
	content.WriteString("#    go run ./cmd/karaoke --help                        # See all CLI options\n")
	content.WriteString("#    go run ./cmd/karaoke --log-level=debug             # Run with debug logging\n")
	content.WriteString("#    go run ./cmd/karaoke reconcile --party=friday      # Repair a party queue\n")
	content.WriteString("\n")
}
