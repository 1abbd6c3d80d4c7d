// Command viewfinder-client fetches a viewfinder endpoint over HTTP/3.
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"
)

func main() {
	var (
		url      string
		out      string
		insecure bool
		timeout  time.Duration
	)
	flag.StringVar(&url, "url", "https://localhost:8443/health", "URL to fetch")
	flag.StringVar(&out, "out", "", "Write the response body to this file instead of stdout")
	flag.BoolVar(&insecure, "insecure", true, "Skip TLS certificate verification")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	flag.Parse()

	transport := &http3.RoundTripper{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: insecure,
		},
	}
	defer transport.Close()

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}

	fmt.Printf("Fetching over HTTP/3: %s\n", url)

	start := time.Now()
	resp, err := client.Get(url)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}
	elapsed := time.Since(start)

	fmt.Printf("Status: %s\n", resp.Status)
	fmt.Printf("Protocol: %s\n", resp.Proto)
	fmt.Printf("Time: %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Headers:\n")
	keys := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %v\n", k, resp.Header[k])
	}

	if out != "" {
		if err := os.WriteFile(out, body, 0o644); err != nil {
			log.Fatalf("Failed to write %s: %v", out, err)
		}
		fmt.Printf("\nWrote %d bytes to %s\n", len(body), out)
		return
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		fmt.Printf("\n%d bytes of %s (use -out to save)\n", len(body), resp.Header.Get("Content-Type"))
		return
	}
	fmt.Printf("\nBody:\n%s\n", string(body))
}
