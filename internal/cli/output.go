package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/koios/openmatrix/internal/device"
	"github.com/koios/openmatrix/pkg/models"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// printJSON writes v as indented JSON
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter creates an aligned column writer
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func addOutputFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "output", "o", outputTable, "output format (table, json)")
}

func checkOutput(format string) error {
	switch format {
	case outputTable, outputJSON:
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}

// replyError turns a rejected device reply into an error
func replyError(resp *device.Response) error {
	var body models.ErrorBody
	if err := json.Unmarshal(resp.Body, &body); err == nil && body.Message != "" {
		return fmt.Errorf("device rejected request (status %d): %s", resp.StatusCode, body.Message)
	}
	return fmt.Errorf("device rejected request (status %d)", resp.StatusCode)
}

// report prints the device acknowledgement of a command
func report(cmd *cobra.Command, resp *device.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.OK() {
		return replyError(resp)
	}
	message := "OK"
	if ack, err := resp.Ack(); err == nil && ack.Data.Message != "" {
		message = ack.Data.Message
	}
	fmt.Fprintln(cmd.OutOrStdout(), message)
	return nil
}
