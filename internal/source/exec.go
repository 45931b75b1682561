package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/teamcutter/binq/internal/platform"
)

// runHelper executes an ecosystem install helper (pnpm, cargo-binstall) with
// its working directory pinned to the store and stdout discarded; stderr is
// kept for the error message.
func runHelper(ctx context.Context, bin string, args []string, dir string, extraEnv ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), extraEnv...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug().Str("bin", bin).Strs("args", args).Msg("running install helper")

	if err := cmd.Run(); err != nil {
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return fmt.Errorf("%s %v: %w: %s", filepath.Base(bin), args, err, msg)
		}
		return fmt.Errorf("%s %v: %w", filepath.Base(bin), args, err)
	}
	return nil
}

// writeLauncher creates the runnable entry for an interpreted package: a
// shell script on POSIX systems, a .cmd shim on Windows. Returns the
// launcher path.
func writeLauncher(dir, name, interpreter, entry string, plat platform.Descriptor) (string, error) {
	if plat.OS == "windows" {
		p := filepath.Join(dir, name+".cmd")
		body := fmt.Sprintf("@echo off\r\n\"%s\" \"%s\" %%*\r\n", interpreter, entry)
		if err := os.WriteFile(p, []byte(body), 0755); err != nil {
			return "", err
		}
		return p, nil
	}

	p := filepath.Join(dir, name)
	body := fmt.Sprintf("#!/bin/sh\nexec \"%s\" \"%s\" \"$@\"\n", interpreter, entry)
	if err := os.WriteFile(p, []byte(body), 0755); err != nil {
		return "", err
	}
	return p, nil
}
