package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"time"

	"github.com/devrev/groove/internal/client"
	"github.com/devrev/groove/internal/data"
)

const defaultAddr = "localhost:50061"

func runSchema(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	addr := fs.String("addr", defaultAddr, "agent address")
	if err := parse(fs, args, 1, "<url>"); err != nil {
		return err
	}
	c, err := client.NewDatasetClient(*addr, newLogger(false))
	if err != nil {
		return err
	}
	defer c.Close()

	s, err := c.Describe(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	printSchema(s)
	return nil
}

// fetchRequest is one column read; start and end are inclusive bounds
// written the way the model's key type prints
type fetchRequest struct {
	url, model, column string
	start, end         string
	retries            int
}

func runFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	addr := fs.String("addr", defaultAddr, "agent address")
	start := fs.String("start", "", "first key to read (default unbounded)")
	end := fs.String("end", "", "last key to read (default unbounded)")
	retries := fs.Int("retries", 3, "attempts while the agent is unavailable")
	verbose := fs.Bool("v", false, "log retries to stderr")
	if err := parse(fs, args, 3, "<url> <model> <column>"); err != nil {
		return err
	}
	req := fetchRequest{
		url:     fs.Arg(0),
		model:   fs.Arg(1),
		column:  fs.Arg(2),
		start:   *start,
		end:     *end,
		retries: max(*retries, 1),
	}

	c, err := client.NewDatasetClient(*addr, newLogger(*verbose))
	if err != nil {
		return err
	}
	defer c.Close()

	s, err := c.Describe(ctx, req.url)
	if err != nil {
		return err
	}
	m := s.Walker().FindModel(req.model)
	if !m.IsValid() {
		return fmt.Errorf("dataset %s has no model %q", req.url, req.model)
	}
	col := m.FindColumn(req.column)
	if !col.IsValid() {
		return fmt.Errorf("model %s has no column %q", req.model, req.column)
	}

	switch m.KeyType() {
	case data.KeyInt64:
		return fetchKeyed(ctx, c, req, col.ValueType(), func(s string) (int64, error) {
			return strconv.ParseInt(s, 10, 64)
		})
	case data.KeyDouble:
		return fetchKeyed(ctx, c, req, col.ValueType(), func(s string) (float64, error) {
			return strconv.ParseFloat(s, 64)
		})
	case data.KeyCategory:
		return fetchKeyed(ctx, c, req, col.ValueType(), func(s string) (data.Category, error) {
			return data.ParseCategory(s), nil
		})
	}
	return fmt.Errorf("model %s has unsupported key type %s", req.model, m.KeyType())
}

func fetchKeyed[K data.Key](ctx context.Context, c *client.DatasetClient, req fetchRequest, vt data.ValueType, parseKey func(string) (K, error)) error {
	var r data.Range[K]
	if req.start != "" {
		k, err := parseKey(req.start)
		if err != nil {
			return fmt.Errorf("invalid start key %q: %w", req.start, err)
		}
		r.Start = &k
	}
	if req.end != "" {
		k, err := parseKey(req.end)
		if err != nil {
			return fmt.Errorf("invalid end key %q: %w", req.end, err)
		}
		r.End = &k
	}

	switch vt {
	case data.ValueDouble:
		return fetchAndPrint[K, float64](ctx, c, req, r)
	case data.ValueInt64:
		return fetchAndPrint[K, int64](ctx, c, req, r)
	case data.ValueString:
		return fetchAndPrint[K, string](ctx, c, req, r)
	}
	return fmt.Errorf("column %s has unsupported value type %s", req.column, vt)
}

func fetchAndPrint[K data.Key, V data.Value](ctx context.Context, c *client.DatasetClient, req fetchRequest, r data.Range[K]) error {
	vec, err := client.FetchWithRetry[K, V](ctx, c, req.url, req.model, req.column, r, req.retries, time.Second)
	if err != nil {
		return err
	}
	for i := 0; i < vec.Size(); i++ {
		fmt.Printf("%v\t%v\t%s\n", vec.Key(i), vec.Value(i), vec.Fidelity(i))
	}
	return nil
}
