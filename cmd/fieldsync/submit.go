package main

import (
	"fmt"
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fieldwork/fieldsync/internal/backend"
	"github.com/fieldwork/fieldsync/internal/types"
	"github.com/fieldwork/fieldsync/internal/validation"
)

var (
	submitFields  []string
	submitNumbers []string
	submitFiles   []string
)

var submitCmd = &cobra.Command{
	Use:   "submit <type>",
	Short: "Send a form submission, queueing it when the backend is unreachable",
	Long: "Send a submission of type register, validate, growth_check, or incident.\n" +
		"String fields come first, then numbers, then files, each in the order given.",
	Example: "  fieldsync submit register --field species_id=sp-12 --number latitude=-1.28 --number longitude=36.82 \\\n" +
		"    --file photo=./tree.jpg:image/jpeg",
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringArrayVar(&submitFields, "field", nil,
		"String field as name=value (repeatable)")
	submitCmd.Flags().StringArrayVar(&submitNumbers, "number", nil,
		"Numeric field as name=value (repeatable)")
	submitCmd.Flags().StringArrayVar(&submitFiles, "file", nil,
		"File field as name=path[:mime-type] (repeatable)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	typ, err := types.ParseSubmissionType(args[0])
	if err != nil {
		return err
	}
	payload, err := buildPayload(submitFields, submitNumbers, submitFiles)
	if err != nil {
		return err
	}
	if err := validation.ValidateSubmission(typ, payload); err != nil {
		return fmt.Errorf("invalid submission: %w", err)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	res := a.dispatcher.Submit(cmd.Context(), typ, backend.Endpoint(typ), payload, a.sender(typ))
	if jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		switch {
		case res.Success && res.Queued:
			fmt.Fprintln(out, "Saved offline; it will sync when the backend is reachable.")
		case res.Queued:
			fmt.Fprintf(out, "Send failed: %s\n", res.Message)
		case res.Success:
			fmt.Fprintln(out, "Submitted.")
		}
	}
	if !res.Success && !res.Queued {
		return fmt.Errorf("submission lost: %s", res.Message)
	}
	return nil
}

// buildPayload assembles a payload from repeated name=value flags. Strings
// come first, then numbers, then files.
func buildPayload(fields, numbers, files []string) (types.Payload, error) {
	var p types.Payload
	for _, kv := range fields {
		name, value, err := splitAssignment(kv)
		if err != nil {
			return nil, err
		}
		p = append(p, types.StringField(name, value))
	}
	for _, kv := range numbers {
		name, value, err := splitAssignment(kv)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("--number %s: %w", name, err)
		}
		p = append(p, types.NumberField(name, n))
	}
	for _, kv := range files {
		name, value, err := splitAssignment(kv)
		if err != nil {
			return nil, err
		}
		ref, err := fileRef(value)
		if err != nil {
			return nil, fmt.Errorf("--file %s: %w", name, err)
		}
		p = append(p, types.FileField(name, ref))
	}
	return p, nil
}

func splitAssignment(s string) (string, string, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return "", "", fmt.Errorf("expected name=value, got %q", s)
	}
	return strings.TrimSpace(name), value, nil
}

// fileRef turns path[:mime-type] into a file:// reference. Without an
// explicit type the extension decides.
func fileRef(spec string) (types.FileRef, error) {
	path, mimeType := spec, ""
	if i := strings.LastIndex(spec, ":"); i > 0 && strings.Contains(spec[i+1:], "/") {
		path, mimeType = spec[:i], spec[i+1:]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return types.FileRef{}, err
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(abs))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return types.FileRef{
		URI:      "file://" + filepath.ToSlash(abs),
		MimeType: mimeType,
		FileName: filepath.Base(abs),
	}, nil
}
