package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/geoscope/geoscope/core/infra/buildinfo"
	"github.com/geoscope/geoscope/sdk/uploader"
)

const defaultGateway = "http://localhost:8081"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "process":
		runProcessCmd(args)
	case "upload":
		runUploadCmd(args)
	case "status":
		runStatusCmd(args)
	case "strategy":
		runStrategyCmd(args)
	case "version":
		fmt.Println(buildinfo.Info())
	default:
		usage()
		os.Exit(1)
	}
}

func runProcessCmd(args []string) {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	gateway := fs.String("gateway", defaultGateway, "gateway base URL")
	geoFile := fs.String("geo", "", "geo document file")
	enrichFile := fs.String("enrich", "", "enrichment request file")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fail("document file required")
	}

	doc := loadDocument(fs.Arg(0), *geoFile, *enrichFile)
	client := uploader.New(*gateway)
	summary, err := client.Process(context.Background(), doc)
	check(err)
	printJSON(json.RawMessage(summary))
}

func runUploadCmd(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	gateway := fs.String("gateway", defaultGateway, "gateway base URL")
	geoFile := fs.String("geo", "", "geo document file")
	enrichFile := fs.String("enrich", "", "enrichment request file")
	chunkSize := fs.Int("chunk-size", 0, "chunk size in bytes (0 = gateway default)")
	wait := fs.Bool("wait", true, "poll until the job finishes")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fail("document file required")
	}

	doc := loadDocument(fs.Arg(0), *geoFile, *enrichFile)
	client := uploader.New(*gateway)
	// Progress goes to stderr so stdout stays just the job id and the
	// final status document.
	client.OnProgress = func(st uploader.JobStatus) {
		fmt.Fprintf(os.Stderr, "%s %.0f%%\n", st.Status, st.Progress)
	}
	jobID, err := client.UploadChunked(context.Background(), doc, *chunkSize)
	check(err)
	fmt.Println(jobID)

	if *wait {
		status, err := client.WaitForCompletion(context.Background(), jobID)
		check(err)
		printJSON(status)
	}
}

func runStatusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	gateway := fs.String("gateway", defaultGateway, "gateway base URL")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fail("job id required")
	}

	client := uploader.New(*gateway)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := client.Status(ctx, fs.Arg(0))
	check(err)
	printJSON(status)
}

func runStrategyCmd(args []string) {
	fs := flag.NewFlagSet("strategy", flag.ExitOnError)
	gateway := fs.String("gateway", defaultGateway, "gateway base URL")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fail("size in bytes required")
	}
	var size int64
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &size); err != nil || size < 0 {
		fail("size must be a non-negative integer")
	}

	client := uploader.New(*gateway)
	advice, err := client.Strategy(context.Background(), size)
	check(err)
	printJSON(advice)
}

func loadDocument(documentFile, geoFile, enrichFile string) uploader.Document {
	doc := uploader.Document{Payload: readFile(documentFile)}
	if geoFile != "" {
		doc.GeoDocument = readFile(geoFile)
	}
	if enrichFile != "" {
		doc.EnrichmentRequest = readFile(enrichFile)
	}
	return doc
}

func readFile(path string) []byte {
	data, err := os.ReadFile(path)
	check(err)
	return data
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func check(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "error:", msg)
	os.Exit(1)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: geoscopectl <command> [flags]

commands:
  process <document>    submit a document along the gateway-advised strategy
  upload <document>     chunked upload of a document (flags: -chunk-size, -wait)
  status <job-id>       fetch the current job state
  strategy <size>       ask which strategy a payload size selects
  version               print build information

common flags:
  -gateway URL          gateway base URL (default http://localhost:8081)
  -geo FILE             geo document to attach
  -enrich FILE          enrichment request to attach`)
}
