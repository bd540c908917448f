package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/devrev/groove/internal/client"
	"github.com/devrev/groove/internal/convert"
	"github.com/devrev/groove/internal/data"
)

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	output := fs.String("o", "dataset.gds", "output dataset file")
	url := fs.String("url", "", "dataset url (default from config, else file://<output>)")
	verbose := fs.Bool("v", false, "log progress to stderr")
	if err := parse(fs, args, 1, "<config>"); err != nil {
		return err
	}
	cfg, err := convert.LoadConfig(fs.Arg(0))
	if err != nil {
		return err
	}
	if *url != "" {
		cfg.DatasetURL = *url
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if err := convert.WriteDataset(cfg, *output, newLogger(*verbose), nil); err != nil {
		return err
	}
	fmt.Printf("%s: wrote %d models\n", *output, len(cfg.Models))
	return nil
}

// runPut declares the configured dataset on an agent and writes every
// model's data into it
func runPut(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	addr := fs.String("addr", defaultAddr, "agent address")
	url := fs.String("url", "", "dataset url (default from config)")
	verbose := fs.Bool("v", false, "log requests to stderr")
	if err := parse(fs, args, 1, "<config>"); err != nil {
		return err
	}
	cfg, err := convert.LoadConfig(fs.Arg(0))
	if err != nil {
		return err
	}
	if *url != "" {
		cfg.DatasetURL = *url
	}
	if cfg.DatasetURL == "" {
		return fmt.Errorf("put needs a dataset url, in the config or with -url")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sch, err := convert.BuildSchema(cfg)
	if err != nil {
		return err
	}

	c, err := client.NewDatasetClient(*addr, newLogger(*verbose))
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.DeclareDataset(ctx, cfg.DatasetURL, sch); err != nil {
		return err
	}
	for _, mc := range cfg.Models {
		f, err := convert.ReadModelFile(mc)
		if err != nil {
			return err
		}
		failed, err := putFrame(ctx, c, cfg.DatasetURL, mc.ModelID, f)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d rows", mc.ModelID, f.NumRows())
		if len(failed) > 0 {
			fmt.Printf(", skipped columns %v", failed)
		}
		fmt.Println()
	}
	return nil
}

func putFrame(ctx context.Context, c *client.DatasetClient, url, modelID string, f data.AnyFrame) ([]string, error) {
	switch typed := f.(type) {
	case *data.Int64Frame:
		return client.PutFrame(ctx, c, url, modelID, typed)
	case *data.DoubleFrame:
		return client.PutFrame(ctx, c, url, modelID, typed)
	case *data.CategoryFrame:
		return client.PutFrame(ctx, c, url, modelID, typed)
	}
	return nil, fmt.Errorf("unsupported frame key type %s", f.KeyType())
}
