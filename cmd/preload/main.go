// cmd/preload/main.go
// Warms the image cache for a list of URLs and prints what was loaded.
//
// Usage:
//
//	go run ./cmd/preload -width 400 -priority high https://example.com/a.jpg https://example.com/b.png
//
// URLs may also be given one per line on stdin. Loader settings come from
// the IMAGE_LOADER_* and IMAGE_CACHE_* environment variables.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"Olas/internal/core/imagecache"
	"Olas/internal/core/imageloader"
)

func main() {
	widthFlag := flag.String("width", "original", `requested width in pixels, or "original"`)
	priorityFlag := flag.String("priority", "normal", "queue priority: high, normal or low")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline for the run")
	statsJSON := flag.Bool("json", false, "print the final store snapshot as JSON")
	flag.Parse()

	width, err := imagecache.ParseWidth(*widthFlag)
	if err != nil {
		log.Fatalf("Invalid -width: %v", err)
	}
	priority, err := imagecache.ParsePriority(*priorityFlag)
	if err != nil {
		log.Fatalf("Invalid -priority: %v", err)
	}

	urls := flag.Args()
	if len(urls) == 0 {
		urls, err = readURLs(os.Stdin)
		if err != nil {
			log.Fatalf("Failed to read URLs from stdin: %v", err)
		}
	}
	if len(urls) == 0 {
		log.Fatal("No URLs given")
	}

	loader, stopCleanup, err := imageloader.NewFromConfig(imageloader.ConfigFromEnv())
	if err != nil {
		log.Fatalf("Failed to create image loader: %v", err)
	}
	defer stopCleanup()

	store, err := imagecache.NewStore(loader, imagecache.ConfigFromEnv())
	if err != nil {
		log.Fatalf("Failed to create image cache: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	log.Printf("Preloading %d images at width %s (priority %s)...", len(urls), width, priority)
	start := time.Now()

	results := make([]string, len(urls))
	var g errgroup.Group
	for i, u := range urls {
		i, u := i, u
		opts := imagecache.PreloadOptions{URL: u, ReqWidth: width, Priority: priority}
		g.Go(func() error {
			return store.WithPreload(ctx, opts, func(ctx context.Context, lease *imagecache.Lease) error {
				r, err := lease.Wait(ctx)
				if err != nil {
					results[i] = fmt.Sprintf("FAIL  %s: %v", u, err)
					return nil
				}
				results[i] = fmt.Sprintf("OK    %s: %dx%d %s (%d bytes)",
					u, r.Source.Width, r.Source.Height, r.Source.Format, r.Source.Bytes)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("Warning: preload interrupted: %v", err)
	}

	for _, line := range results {
		fmt.Println(line)
	}

	stats := store.Stats()
	fmt.Printf("\nFetched %d variations in %s\n", stats.TotalFetched(), time.Since(start).Round(time.Millisecond))
	for _, u := range urls {
		key := imagecache.KeyFor(u, width)
		if avg, ok := stats.AverageLoadingTime(key); ok {
			fmt.Printf("  %-60s avg %s\n", key, avg.Round(time.Millisecond))
		}
	}

	if *statsJSON {
		out, err := json.MarshalIndent(store.Snapshot(), "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode snapshot: %v", err)
		}
		fmt.Println(string(out))
	}
}

// readURLs reads one URL per line, skipping blanks and # comments.
func readURLs(f *os.File) ([]string, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	// Nothing piped in
	if info.Mode()&os.ModeCharDevice != 0 {
		return nil, nil
	}

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}
