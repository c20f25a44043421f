// Command smoke exercises a running careloop instance end to end: creates
// an invitation, lists it, resends it twice (the second must be rate
// limited), then revokes. It needs a valid bearer token for the target
// environment.
//
// Usage:
//
//	smoke -base http://localhost:8080 -token "$TOKEN"
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	base := flag.String("base", "http://localhost:8080", "base URL of the instance")
	token := flag.String("token", "", "bearer token (required)")
	address := flag.String("address", "smoke+invitee@example.org", "invitee contact address")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "smoke: -token is required")
		os.Exit(2)
	}

	c := &client{base: *base, token: *token, http: &http.Client{Timeout: 10 * time.Second}}
	if err := run(c, *address); err != nil {
		fmt.Fprintln(os.Stderr, "smoke: FAIL:", err)
		os.Exit(1)
	}
	fmt.Println("smoke: OK")
}

func run(c *client, address string) error {
	var health struct {
		Status string `json:"status"`
	}
	if err := c.do(http.MethodGet, "/healthz", nil, http.StatusOK, &health); err != nil {
		return fmt.Errorf("healthz: %w", err)
	}

	var created struct {
		Invitation struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"invitation"`
	}
	body := map[string]string{
		"invitee_name":    "Smoke Test",
		"contact_address": address,
	}
	if err := c.do(http.MethodPost, "/v1/invitations", body, http.StatusOK, &created); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if created.Invitation.Status != "pending" {
		return fmt.Errorf("create: status %q, want pending", created.Invitation.Status)
	}
	id := created.Invitation.ID

	var listed struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := c.do(http.MethodGet, "/v1/invitations", nil, http.StatusOK, &listed); err != nil {
		return fmt.Errorf("list: %w", err)
	}
	found := false
	for _, item := range listed.Items {
		if item.ID == id {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("list: invitation %s missing", id)
	}

	// A first resend is allowed; an immediate second one must hit the
	// 1-hour cooldown.
	if err := c.do(http.MethodPost, "/v1/invitations/"+id+"/resend", nil, http.StatusOK, nil); err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	if err := c.do(http.MethodPost, "/v1/invitations/"+id+"/resend", nil, http.StatusTooManyRequests, nil); err != nil {
		return fmt.Errorf("resend cooldown: %w", err)
	}

	if err := c.do(http.MethodPost, "/v1/invitations/"+id+"/revoke", nil, http.StatusOK, nil); err != nil {
		return fmt.Errorf("revoke: %w", err)
	}

	// Revoked rows reject a second revoke as not found.
	if err := c.do(http.MethodPost, "/v1/invitations/"+id+"/revoke", nil, http.StatusNotFound, nil); err != nil {
		return fmt.Errorf("double revoke: %w", err)
	}
	return nil
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) do(method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != wantStatus {
		return fmt.Errorf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, wantStatus, payload)
	}
	if out != nil {
		return json.Unmarshal(payload, out)
	}
	return nil
}
