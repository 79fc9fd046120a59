// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/farview-dev/farview/lib/config"
)

// credentials is the device identity the agent persists after
// registration. The token is long-lived with an absolute expiry; once
// it expires the relay rejects it and the device must re-register.
type credentials struct {
	DeviceID    string `yaml:"device_id"`
	DeviceToken string `yaml:"device_token"`
}

func loadCredentials(path string) (credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return credentials{}, err
	}
	var creds credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return credentials{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if creds.DeviceID == "" || creds.DeviceToken == "" {
		return credentials{}, fmt.Errorf("%s is missing device_id or device_token", path)
	}
	return creds, nil
}

func saveCredentials(path string, creds credentials) error {
	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// registerDevice logs into the account API and registers this device,
// returning the issued identity and session token.
func registerDevice(ctx context.Context, cfg *config.Agent, email, password string) (credentials, error) {
	loginBody, err := postJSON(ctx, cfg.ServerURL+"/api/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return credentials{}, fmt.Errorf("logging in: %w", err)
	}
	accountToken, _ := loginBody["token"].(string)
	if accountToken == "" {
		return credentials{}, fmt.Errorf("login response carried no token")
	}

	deviceBody, err := postJSON(ctx, cfg.ServerURL+"/api/devices", accountToken, map[string]string{
		"name":     cfg.DeviceName,
		"platform": cfg.Platform,
	})
	if err != nil {
		return credentials{}, fmt.Errorf("registering device: %w", err)
	}

	creds := credentials{}
	creds.DeviceID, _ = deviceBody["deviceId"].(string)
	creds.DeviceToken, _ = deviceBody["deviceToken"].(string)
	if creds.DeviceID == "" || creds.DeviceToken == "" {
		return credentials{}, fmt.Errorf("device registration response incomplete")
	}
	return creds, nil
}

func postJSON(ctx context.Context, url, bearer string, body any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w", url, err)
	}
	if resp.StatusCode >= 400 {
		message, _ := decoded["error"].(string)
		return nil, fmt.Errorf("%s responded %d: %s", url, resp.StatusCode, message)
	}
	return decoded, nil
}
