package engine

import (
	"context"
	"fmt"
	"time"

	rlmerrors "github.com/adrianwedd/rlm-mcp/internal/errors"
	"github.com/adrianwedd/rlm-mcp/internal/export"
	"github.com/adrianwedd/rlm-mcp/internal/model"
)

// exportDocumentLimit bounds how many documents one export gathers.
const exportDocumentLimit = 10_000

// ExportInput is the input for rlm.export.github.
type ExportInput struct {
	SessionID    string `json:"session_id" jsonschema:"session to export"`
	Repo         string `json:"repo" jsonschema:"target repository as owner/repo"`
	Branch       string `json:"branch,omitempty" jsonschema:"branch name; defaults to rlm/session/<timestamp>-<session prefix>"`
	Path         string `json:"path,omitempty" jsonschema:"export path; defaults to .rlm/sessions/<timestamp>_<session prefix>"`
	IncludeDocs  bool   `json:"include_docs,omitempty" jsonschema:"include raw document content"`
	Redact       bool   `json:"redact,omitempty" jsonschema:"scrub detected secrets before upload"`
	AllowSecrets bool   `json:"allow_secrets,omitempty" jsonschema:"export even if secrets are detected (dangerous)"`
}

// ExportOutput is the output of rlm.export.github.
type ExportOutput struct {
	Branch        string   `json:"branch"`
	CommitSHA     string   `json:"commit_sha"`
	ExportPath    string   `json:"export_path"`
	FilesExported int      `json:"files_exported"`
	Warnings      []string `json:"warnings"`
	SecretsFound  int      `json:"secrets_found"`
}

// ExportGitHub assembles the session's export bundle, runs the
// secret-scan gate, and pushes the tree to the remote repository. On
// success the session transitions to exported.
func (e *Engine) ExportGitHub(ctx context.Context, in ExportInput) (ExportOutput, error) {
	return run(ctx, e, "rlm.export.github", in.SessionID, toMap(in), func(ctx context.Context) (ExportOutput, error) {
		session, err := e.requireSession(ctx, in.SessionID)
		if err != nil {
			return ExportOutput{}, err
		}
		if e.uploader == nil {
			return ExportOutput{}, rlmerrors.New(rlmerrors.KindInvalidInput,
				"export is not configured: no uploader available (set GITHUB_TOKEN)")
		}
		if in.Repo == "" {
			return ExportOutput{}, rlmerrors.New(rlmerrors.KindInvalidInput, "repo is required")
		}

		now := time.Now().UTC()
		branch := in.Branch
		if branch == "" {
			branch = export.DefaultBranch(in.SessionID, now)
		}
		exportPath := in.Path
		if exportPath == "" {
			exportPath = export.DefaultPath(in.SessionID, now)
		}

		docs, err := e.store.GetDocuments(ctx, in.SessionID, exportDocumentLimit, 0)
		if err != nil {
			return ExportOutput{}, err
		}
		artifacts, err := e.store.GetArtifacts(ctx, in.SessionID, "", "")
		if err != nil {
			return ExportOutput{}, err
		}
		traces, err := e.store.GetTraces(ctx, in.SessionID)
		if err != nil {
			return ExportOutput{}, err
		}

		bundle, err := export.BuildBundle(session, docs, artifacts, traces, e.blobs, in.IncludeDocs)
		if err != nil {
			return ExportOutput{}, err
		}

		// Secret-scan gate: artifact contents and trace input/output
		// are inspected before any bytes are sent to the provider.
		var warnings []string
		secretsFound := 0
		for _, artifact := range artifacts {
			if findings := export.ScanForSecrets(fmt.Sprint(artifact.Content)); len(findings) > 0 {
				secretsFound += len(findings)
				warnings = append(warnings, fmt.Sprintf(
					"artifact %s contains %d potential secrets", artifact.ID, len(findings)))
			}
		}
		for _, trace := range traces {
			secretsFound += len(export.ScanForSecrets(fmt.Sprint(trace.Input)))
			secretsFound += len(export.ScanForSecrets(fmt.Sprint(trace.Output)))
		}

		switch {
		case secretsFound == 0:
			// Clean: nothing to gate.
		case in.Redact:
			redacted := export.RedactBundle(bundle)
			warnings = append(warnings, fmt.Sprintf("redacted %d secret occurrences", redacted))
		case in.AllowSecrets:
			warnings = append(warnings, fmt.Sprintf(
				"exported with %d unredacted secrets (allow_secrets=true)", secretsFound))
		default:
			return ExportOutput{}, rlmerrors.Newf(rlmerrors.KindSecretsBlocked,
				"export blocked: %d secrets found. Use redact=true to scrub them or allow_secrets=true to export anyway",
				secretsFound).
				WithDetail("secrets_found", fmt.Sprintf("%d", secretsFound))
		}

		commitSHA, err := e.uploader.Upload(ctx, in.Repo, branch, exportPath, bundle.Files)
		if err != nil {
			return ExportOutput{}, rlmerrors.Wrap(rlmerrors.KindStorage, "export upload failed", err)
		}

		// A successful export moves the session to exported. Failures
		// here are logged through UpdateSession's error, not fatal to
		// the already-completed upload.
		session.Status = model.StatusExported
		if err := e.store.UpdateSession(ctx, session); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to mark session exported: %v", err))
		}

		if warnings == nil {
			warnings = []string{}
		}
		return ExportOutput{
			Branch:        branch,
			CommitSHA:     commitSHA,
			ExportPath:    exportPath,
			FilesExported: len(bundle.Files),
			Warnings:      warnings,
			SecretsFound:  secretsFound,
		}, nil
	})
}
