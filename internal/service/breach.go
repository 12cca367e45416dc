package service

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Pranjalshukla1602/task-manager/pkg/httpclient"
)

// BreachChecker reports whether a password is known from public breaches.
type BreachChecker interface {
	Breached(ctx context.Context, password string) (bool, error)
}

// PwnedPasswordsChecker queries a k-anonymity range API: only the first five
// hex characters of the password's SHA-1 leave the process.
type PwnedPasswordsChecker struct {
	client  *httpclient.CircuitBreakerClient
	baseURL string
}

func NewPwnedPasswordsChecker(client *httpclient.CircuitBreakerClient, baseURL string) *PwnedPasswordsChecker {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &PwnedPasswordsChecker{client: client, baseURL: baseURL}
}

func (c *PwnedPasswordsChecker) Breached(ctx context.Context, password string) (bool, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	resp, err := c.client.Get(ctx, c.baseURL+prefix)
	if err != nil {
		return false, fmt.Errorf("breach range lookup: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, httpclient.ParseResponseError(resp, "breach range api")
	}
	defer func() { _ = resp.Body.Close() }()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		hash, count, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok || !strings.EqualFold(hash, suffix) {
			continue
		}
		// Padded responses list decoys with a zero count.
		n, err := strconv.Atoi(count)
		return err == nil && n > 0, nil
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("read breach range: %w", err)
	}
	return false, nil
}
