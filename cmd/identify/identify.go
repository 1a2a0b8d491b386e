// Package identify provides the identify command for one-shot
// classification of a mosquito photo on disk.
package identify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/artifactstore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/classifier"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/datastore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	identifysvc "github.com/iloncka-ds/culicidaelab-server-sub001/internal/identify"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/imagepipeline"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/logging"
)

// identifyTimeout bounds one classification run including a cold model
// load.
const identifyTimeout = 2 * time.Minute

// Command creates the identify command for classifying a single image file.
func Command(settings *conf.Settings) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "identify [image.jpg]",
		Short: "Identify the mosquito species on a photo",
		Long:  "Classify a single image file and print the ranked species predictions.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentify(settings, args[0], format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func runIdentify(settings *conf.Settings, imagePath, format string) error {
	// Keep stdout clean for the result; logs go to stderr.
	logging.Init()
	logging.SetOutput(os.Stderr, os.Stderr)

	upload, err := os.ReadFile(imagePath)
	if err != nil {
		return errors.New(err).
			Component("identify").
			Category(errors.CategoryFileIO).
			Context("path", imagePath).
			Build()
	}

	// The reference catalog supplies localized species metadata for the
	// predicted label, so the database must be reachable.
	store := datastore.New(settings)
	if store == nil {
		return errors.Newf("no database output is enabled in configuration").
			Component("identify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	engine := classifier.New(settings, nil)
	defer engine.Close()

	var artifacts artifactstore.Store
	if settings.Artifacts.Enabled {
		fsStore, err := artifactstore.NewFSStore(conf.GetBasePath(settings.Artifacts.Root), settings.Artifacts.RetryWrites)
		if err != nil {
			return err
		}
		artifacts = fsStore
	} else {
		artifacts = artifactstore.NewMemoryStore()
	}

	pipeline := imagepipeline.New(settings, artifacts, nil)
	svc := identifysvc.New(settings, engine, pipeline, store, nil)

	ctx, cancel := context.WithTimeout(context.Background(), identifyTimeout)
	defer cancel()

	result, err := svc.Identify(ctx, upload, settings.Reference.DefaultLocale)
	if err != nil {
		return err
	}

	// Let detached artifact writes land before the process exits.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), settings.Artifacts.PipelineTimeout)
	_ = pipeline.Shutdown(drainCtx)
	cancelDrain()

	if format == "json" {
		return printJSON(result)
	}
	printTable(imagePath, result)
	return nil
}

func printJSON(result *identifysvc.PredictionResult) error {
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(payload))
	return nil
}

func printTable(imagePath string, result *identifysvc.PredictionResult) {
	fmt.Printf("Image: %s\n", filepath.Base(imagePath))
	fmt.Printf("Model: %s\n\n", result.ModelID())

	fmt.Printf("%4s  %-30s %11s\n", "RANK", "SCIENTIFIC NAME", "PROBABILITY")
	for i, p := range result.Rankings() {
		fmt.Printf("%4d  %-30s %10.1f%%\n", i+1, p.ScientificName, p.Probability*100)
	}

	if species := result.Species(); species != nil {
		fmt.Println()
		if species.CommonName.Value != "" {
			fmt.Printf("Common name:   %s\n", species.CommonName.Value)
		}
		if species.VectorStatus != "" {
			fmt.Printf("Vector status: %s\n", species.VectorStatus)
		}
	}

	if refs := result.Artifacts(); len(refs) > 0 {
		fmt.Printf("\nStored artifacts:\n")
		for _, ref := range refs {
			fmt.Printf("  %-8s %s\n", ref.Variant, ref.Key)
		}
	} else if result.ArtifactsPending() {
		fmt.Printf("\nArtifact persistence still in flight\n")
	}
}
