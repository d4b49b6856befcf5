// Command healthcheck is the container health probe. It exits non-zero unless
// the bot's /healthz (or the path given as the first argument) answers 200.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func probeURL(addr, path string) string {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	if host == "" {
		host = "localhost:8080"
	}
	return fmt.Sprintf("http://%s%s", host, path)
}

func check(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return nil
}

func main() {
	path := "/healthz"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	client := &http.Client{Timeout: 3 * time.Second}
	if err := check(context.Background(), client, probeURL(os.Getenv("HTTP_ADDR"), path)); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}
