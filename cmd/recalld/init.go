package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recalld/internal/embeddings"
)

var forceDownload bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&forceDownload, "force", "f", false, "Force re-download even if ONNX runtime exists")
}

// initCmd installs the local embedding runtime
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize recalld dependencies",
	Long: `Initialize recalld by downloading required dependencies.

Currently this downloads the ONNX runtime library required for local
embeddings with FastEmbed. The library is installed to:
  ~/.config/recalld/lib/

If ONNX_PATH environment variable is set, that path takes precedence.

Examples:
  # Download the ONNX runtime
  recalld init

  # Force re-download even if already installed
  recalld init --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, _ []string) error {
	if !forceDownload {
		if path := embeddings.ONNXLibraryPath(); path != "" {
			cmd.Printf("ONNX runtime already installed at: %s\n", path)
			cmd.Println("Use --force to re-download.")
			return nil
		}
	}

	cmd.Printf("Downloading ONNX runtime v%s...\n", embeddings.ONNXRuntimeVersion)
	if err := embeddings.DownloadONNXRuntime(cmd.Context(), embeddings.ONNXRuntimeVersion, embeddings.ONNXInstallDir()); err != nil {
		return fmt.Errorf("failed to download ONNX runtime: %w", err)
	}

	path := embeddings.ONNXLibraryPath()
	if path == "" {
		return fmt.Errorf("download completed but library not found")
	}
	cmd.Printf("Successfully installed ONNX runtime to: %s\n", path)
	return nil
}
