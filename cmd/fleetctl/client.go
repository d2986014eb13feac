package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/coastline-io/flotilla/pkg/api"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// getJSON fetches a path and pretty-prints the response body
func getJSON(path string) error {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return printResponse(resp)
}

// postJSON posts a JSON body to a path and pretty-prints the response
func postJSON(path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	resp, err := httpClient.Post(
		serverURL+path, "application/json", reader,
	)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr api.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, apiErr.Status)
		}
		return fmt.Errorf("%s: %s", resp.Status, data)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		_, err = os.Stdout.Write(data)
		return err
	}
	fmt.Println(pretty.String())
	return nil
}
