package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/jessson/mev-dashboard/internal/lib/auth"
)

func main() {
	url := flag.String("url", "http://localhost:8080/health", "health endpoint to probe")
	hashToken := flag.String("hash-token", "", "print the AUTH_TOKEN_HASH for this token and exit")
	flag.Parse()

	if *hashToken != "" {
		hash, err := auth.HashToken(*hashToken)
		if err != nil {
			log.Fatalf("Cannot hash token: %v", err)
		}
		fmt.Println(hash)
		return
	}

	fmt.Println("mev-dashboard Health Check Utility")
	fmt.Println("----------------------------------")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, err := checkServiceHealth(ctx, *url)
	if err != nil {
		fmt.Printf("Service is NOT healthy: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Service is healthy! status=%v scheduler=%v\n", body["status"], body["scheduler"])
}

func checkServiceHealth(ctx context.Context, url string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := sonnet.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("%s: store %v", resp.Status, body["store"])
	}
	return body, nil
}
