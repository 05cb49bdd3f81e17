package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/callqueue/internal/models"
)

var seedCmd = &cobra.Command{
	Use:   "seed [file.yaml]",
	Short: "Load callback records from a YAML file",
	Long: `Creates one record per entry of the file's "records" list:

  records:
    - contact_name: Ada Lovelace
      phone: "+44 20 7946 0000"
      priority: high
      notes: asked about the invoice`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

type seedFile struct {
	Records []models.Record `yaml:"records"`
}

func parseSeed(r io.Reader) ([]models.Record, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, rec := range f.Records {
		if rec.ContactName == "" {
			return nil, fmt.Errorf("record %d: contact_name is required", i+1)
		}
		if rec.Status != "" && !models.TaskStatus(rec.Status).Valid() {
			return nil, fmt.Errorf("record %d: invalid status %q", i+1, rec.Status)
		}
		if rec.Priority != "" && !models.Priority(rec.Priority).Valid() {
			return nil, fmt.Errorf("record %d: invalid priority %q", i+1, rec.Priority)
		}
	}
	return f.Records, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	file, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer file.Close()

	records, err := parseSeed(file)
	if err != nil {
		return err
	}

	b, err := openBackend(cfg, "seed")
	if err != nil {
		return err
	}
	defer b.Close()

	cr, err := b.creator()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if _, err := cr.Create(cmd.Context(), rec); err != nil {
			return fmt.Errorf("create %s: %w", rec.ContactName, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d records\n", len(records))
	return nil
}
