package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/adfleet/internal/hub/service"
)

func newInspectCommand() *cobra.Command {
	var (
		server  string
		token   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show live connections, disconnect records and playback sessions of a running hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			p, err := fetchPresence(ctx, http.DefaultClient, server, token)
			if err != nil {
				return err
			}
			renderPresence(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:8080", "Base URL of the hub.")
	cmd.Flags().StringVar(&token, "token", "", "Administrative bearer token.")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout.")
	return cmd
}

func fetchPresence(ctx context.Context, client *http.Client, server, token string) (*service.Presence, error) {
	url := strings.TrimSuffix(server, "/") + "/api/v1/admin/presence"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("hub answered %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var p service.Presence
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode presence: %w", err)
	}
	return &p, nil
}

func renderPresence(w io.Writer, p *service.Presence) {
	table := uitable.New()
	table.MaxColWidth = 40

	table.AddRow("DEVICE", "STATUS", "CONNECTED", "OBSERVERS", "CONNECTION")
	for _, c := range p.Connections {
		table.AddRow(c.DeviceID, c.Status, age(c.ConnectedAt), c.Observers, c.ConnectionID)
	}
	fmt.Fprintln(w, table)
	fmt.Fprintln(w)

	table = uitable.New()
	table.AddRow("DISCONNECTED", "LAST STATUS", "AGO")
	for _, d := range p.Disconnects {
		table.AddRow(d.DeviceID, d.LastStatus, age(d.DisconnectedAt))
	}
	fmt.Fprintln(w, table)
	fmt.Fprintln(w)

	table = uitable.New()
	table.AddRow("VEHICLE", "STATE", "ITEM", "SEQ", "VERSION", "DEVICES")
	for _, s := range p.Sessions {
		table.AddRow(s.VehicleID, s.State, fmt.Sprintf("%d/%d", s.Index+1, s.Items), s.Sequence,
			s.PlaylistVersion, strings.Join(s.Devices, ","))
	}
	fmt.Fprintln(w, table)
	fmt.Fprintf(w, "\nfleet observers: %d\n", p.FleetObservers)
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Truncate(time.Second).String()
}
