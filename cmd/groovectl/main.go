// groovectl inspects dataset files, ships them through the configured blob
// store and reads columns from a running groove agent.
//
// Usage:
//
//	groovectl describe [-pages] <file>
//	groovectl verify <file>
//	groovectl convert [-o dataset.gds] [-url url] <config>
//	groovectl export [-config path] [-codec zstd] <file> <blob> [<file> <blob>...]
//	groovectl import [-config path] <blob> <dest>
//	groovectl schema [-addr host:port] <url>
//	groovectl fetch [-addr host:port] [-start k] [-end k] <url> <model> <column>
//	groovectl put [-addr host:port] [-url url] <config>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/dataset"
	"github.com/devrev/groove/internal/schema"
	"github.com/devrev/groove/internal/ship"
	"go.uber.org/zap"
)

const usage = `Usage: groovectl <command> [flags] <args>

Commands:
  describe  print the url, schema and layout of a dataset file
  verify    check a dataset file's index, schema and pages
  convert   build a dataset file from JSON lines data
  export    compress and upload dataset files to the blob store
  import    download a blob into a new dataset file
  schema    print the schema of a dataset served by an agent
  fetch     print one column of a dataset served by an agent
  put       declare a dataset on an agent and write JSON lines data into it
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "describe":
		err = runDescribe(args)
	case "verify":
		err = runVerify(args)
	case "convert":
		err = runConvert(args)
	case "export":
		err = runExport(ctx, args)
	case "import":
		err = runImport(ctx, args)
	case "schema":
		err = runSchema(ctx, args)
	case "fetch":
		err = runFetch(ctx, args)
	case "put":
		err = runPut(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// parse parses flags and insists on exactly n positional arguments
func parse(fs *flag.FlagSet, args []string, n int, names string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != n {
		return fmt.Errorf("usage: groovectl %s [flags] %s", fs.Name(), names)
	}
	return nil
}

func runDescribe(args []string) error {
	fs := flag.NewFlagSet("describe", flag.ContinueOnError)
	pages := fs.Bool("pages", false, "list every page id")
	if err := parse(fs, args, 1, "<file>"); err != nil {
		return err
	}

	r, err := dataset.OpenReader(fs.Arg(0), zap.NewNop())
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Printf("url:     %s\n", r.URL())
	fmt.Printf("vectors: %d\n", r.NumVectors())
	fmt.Printf("frames:  %d\n", r.NumFrames())
	printSchema(r.Schema())

	if *pages {
		ids, err := r.PageIDs()
		if err != nil {
			return err
		}
		fmt.Println("pages:")
		for _, id := range ids {
			fmt.Printf("  %s\n", id)
		}
	}
	return nil
}

func printSchema(s *schema.Schema) {
	w := s.Walker()
	fmt.Printf("schema:  version %d, %d namespaces\n", s.Version(), w.NumNamespaces())
	for i := 0; i < w.NumModels(); i++ {
		m := w.Model(i)
		fmt.Printf("  model %s (%s, %s)\n", m.ID(), m.KeyType(), m.Collation())
		for j := 0; j < m.NumColumns(); j++ {
			c := m.Column(j)
			fmt.Printf("    column %s %s policy=%s\n", c.ID(), c.ValueType(), c.FidelityPolicy())
		}
	}
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	if err := parse(fs, args, 1, "<file>"); err != nil {
		return err
	}
	r, err := dataset.OpenReader(fs.Arg(0), zap.NewNop())
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Verify(); err != nil {
		return err
	}
	fmt.Printf("%s: ok (%d vectors)\n", fs.Arg(0), r.NumVectors())
	return nil
}

// shipFlags are shared by export and import
type shipFlags struct {
	configPath *string
	codec      *string
	verbose    *bool
}

func addShipFlags(fs *flag.FlagSet) shipFlags {
	return shipFlags{
		configPath: fs.String("config", os.Getenv("CONFIG_PATH"), "agent config file holding the ship section"),
		codec:      fs.String("codec", "", "compression codec: none, zstd or lz4 (default from config)"),
		verbose:    fs.Bool("v", false, "log progress to stderr"),
	}
}

func (f shipFlags) shipper(ctx context.Context) (*ship.Shipper, error) {
	cfg := config.Default()
	if *f.configPath != "" {
		loaded, err := config.LoadConfig(*f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	codecName := cfg.Ship.Codec
	if *f.codec != "" {
		codecName = *f.codec
	}
	codec, err := ship.ParseCodec(codecName)
	if err != nil {
		return nil, err
	}

	logger := newLogger(*f.verbose)
	store, err := ship.NewStore(ctx, cfg.Ship, logger)
	if err != nil {
		return nil, err
	}
	return ship.NewShipper(store, ship.Options{
		Codec:   codec,
		Workers: cfg.Ship.Workers,
		Logger:  logger,
	}), nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	sf := addShipFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	files, err := exportPairs(fs.Args())
	if err != nil {
		return err
	}
	s, err := sf.shipper(ctx)
	if err != nil {
		return err
	}
	return s.ExportAll(ctx, files)
}

// exportPairs maps blob names to the files exported under them
func exportPairs(args []string) (map[string]string, error) {
	if len(args) == 0 || len(args)%2 != 0 {
		return nil, fmt.Errorf("usage: groovectl export [flags] <file> <blob> [<file> <blob>...]")
	}
	files := make(map[string]string, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		path, blob := args[i], args[i+1]
		if _, dup := files[blob]; dup {
			return nil, fmt.Errorf("blob %s is named twice", blob)
		}
		files[blob] = path
	}
	return files, nil
}

func runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	sf := addShipFlags(fs)
	if err := parse(fs, args, 2, "<blob> <dest>"); err != nil {
		return err
	}
	s, err := sf.shipper(ctx)
	if err != nil {
		return err
	}
	return s.Import(ctx, fs.Arg(0), fs.Arg(1))
}
