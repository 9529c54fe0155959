package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/stage"
)

// invokeStage runs one stage the same way the HTTP surface does and prints
// the JSON body. A non-2xx status becomes the command error.
func invokeStage(ctx context.Context, out io.Writer, name string, req stage.Request) error {
	env := newStageEnv(cfg)
	defer env.Close()

	status, body := buildRegistry(env).Invoke(ctx, name, req)
	if err := printJSON(out, body); err != nil {
		return err
	}
	if status >= http.StatusBadRequest {
		return eris.Errorf("%s: stage returned status %d", name, status)
	}
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode output")
	}
	return nil
}

func stageRunE(name string, build func(cmd *cobra.Command, args []string) (stage.Request, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		req, err := build(cmd, args)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return invokeStage(cmd.Context(), cmd.OutOrStdout(), name, req)
	}
}
