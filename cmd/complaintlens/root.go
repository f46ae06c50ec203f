package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "complaintlens",
	Short: "Embed, cluster and summarise free-text complaints",
	Long: `complaintlens ingests complaints (manual, CSV or video comments), embeds them
with GigaChat or OpenRouter, clusters them and names each cluster with an LLM.

Run "complaintlens serve" to expose everything as MCP tools over stdio.
Configuration comes from COMPLAINTLENS_CONFIG_PATH, .env and environment variables.`,
	SilenceUsage: true,
}
