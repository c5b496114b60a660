package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 5 * time.Second}
			base := "http://" + cfg.Paths.APIBind

			version, err := fetchText(client, base+"/version")
			if err != nil {
				return fmt.Errorf("daemon unreachable at %s: %w", cfg.Paths.APIBind, err)
			}

			var health struct {
				Alive       bool `json:"alive"`
				BrokerReady bool `json:"brokerReady"`
			}
			if err := fetchJSON(client, base+"/health", &health); err != nil {
				return err
			}

			rows := [][]string{
				{"version", version},
				{"alive", fmt.Sprintf("%t", health.Alive)},
				{"broker ready", fmt.Sprintf("%t", health.BrokerReady)},
			}
			cmd.Println(renderTable([]string{"Field", "Value"}, rows))
			return nil
		},
	}
}

func fetchText(client *http.Client, url string) (string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func fetchJSON(client *http.Client, url string, into any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(into)
}
