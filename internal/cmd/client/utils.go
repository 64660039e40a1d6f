package clientcmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// APIURLFunc resolves the server base URL at invocation time.
type APIURLFunc func() string

// getJSON issues a GET and decodes the JSON response into out. Non-2xx
// responses become errors carrying the response body.
func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s", resp.Status, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// printJSON renders a value as indented JSON on stdout.
func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
