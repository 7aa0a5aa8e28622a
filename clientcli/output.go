package clientcli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

// Formatter formats results for output.
type Formatter interface {
	FormatUpload(w io.Writer, results []UploadResult) error
	FormatDownload(w io.Writer, result *DownloadResult) error
	FormatDelete(w io.Writer, results []DeleteResult) error
	FormatList(w io.Writer, result *ListResult) error
	FormatAction(w io.Writer, result ActionResult) error
	FormatError(w io.Writer, err error) error
	FormatProfileList(w io.Writer, profiles []Profile, defaultName string, showSecrets bool) error
	FormatProfileShow(w io.Writer, profile Profile, isDefault, showSecrets bool) error
}

// NewFormatter returns the appropriate formatter based on flags.
func NewFormatter(jsonOutput, quiet bool) Formatter {
	if jsonOutput {
		return &JSONFormatter{}
	}
	return &HumanFormatter{Quiet: quiet}
}

// HumanFormatter outputs human-readable text.
type HumanFormatter struct {
	Quiet bool
}

// FormatUpload formats upload results as human-readable text.
func (f *HumanFormatter) FormatUpload(w io.Writer, results []UploadResult) error {
	for i := range results {
		r := &results[i]
		if r.Err != nil {
			_, _ = fmt.Fprintf(w, "Error: %s - %v\n", r.LocalPath, r.Err)
			continue
		}
		if !f.Quiet {
			if r.Parts > 0 {
				_, _ = fmt.Fprintf(w, "Uploaded: %s (%s in %d parts)\n", r.RemotePath, formatSize(r.Size), r.Parts)
			} else {
				_, _ = fmt.Fprintf(w, "Uploaded: %s (%s)\n", r.RemotePath, formatSize(r.Size))
			}
			_, _ = fmt.Fprintf(w, "  ETag: %s\n", r.ETag)
		}
	}
	return nil
}

// FormatDownload formats download result as human-readable text.
func (f *HumanFormatter) FormatDownload(w io.Writer, result *DownloadResult) error {
	if !f.Quiet {
		if result.LocalPath == "-" {
			_, _ = fmt.Fprintf(w, "Downloaded: %s (%s)\n", result.RemotePath, formatSize(result.Size))
		} else {
			_, _ = fmt.Fprintf(w, "Downloaded: %s -> %s (%s)\n", result.RemotePath, result.LocalPath, formatSize(result.Size))
		}
		_, _ = fmt.Fprintf(w, "  ETag: %s\n", result.ETag)
	}
	return nil
}

// FormatDelete formats delete results as human-readable text.
func (f *HumanFormatter) FormatDelete(w io.Writer, results []DeleteResult) error {
	for i := range results {
		r := &results[i]
		if r.Err != nil {
			_, _ = fmt.Fprintf(w, "Error: %s - %v\n", r.Path, r.Err)
			continue
		}
		if !f.Quiet {
			_, _ = fmt.Fprintf(w, "Deleted: %s\n", r.Path)
		}
	}
	return nil
}

// FormatList formats list results as human-readable text.
func (f *HumanFormatter) FormatList(w io.Writer, result *ListResult) error {
	if len(result.Items) == 0 {
		_, _ = fmt.Fprintln(w, "No objects found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PATH\tSIZE\tUPDATED")

	var files int
	for i := range result.Items {
		item := &result.Items[i]
		if item.IsDir {
			_, _ = fmt.Fprintf(tw, "%s/\t-\t-\n", item.Path)
			continue
		}
		files++

		updated := "-"
		if !item.UpdatedAt.IsZero() {
			updated = humanize.Time(item.UpdatedAt)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", item.Path, formatSize(item.Size), updated)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	dirs := len(result.Items) - files
	_, _ = fmt.Fprintf(w, "\n%d file(s), %d folder(s) (%s total)\n", files, dirs, formatSize(result.TotalSize()))
	return nil
}

// FormatAction formats a mkdir, copy or move result as human-readable text.
func (f *HumanFormatter) FormatAction(w io.Writer, result ActionResult) error {
	if f.Quiet {
		return nil
	}

	switch result.Action {
	case "mkdir":
		if result.Created {
			_, _ = fmt.Fprintf(w, "Created: %s/\n", result.Path)
		} else {
			_, _ = fmt.Fprintf(w, "Exists: %s/\n", result.Path)
		}
	default:
		verb := "Copied"
		if result.Action == "move" {
			verb = "Moved"
		}
		suffix := ""
		if !result.Created {
			suffix = " (replaced)"
		}
		_, _ = fmt.Fprintf(w, "%s: %s -> %s%s\n", verb, result.Path, result.Destination, suffix)
	}
	return nil
}

// FormatError formats an error as human-readable text.
func (f *HumanFormatter) FormatError(w io.Writer, err error) error {
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	return nil
}

// JSONFormatter outputs JSON.
type JSONFormatter struct{}

// FormatUpload formats upload results as JSON.
func (f *JSONFormatter) FormatUpload(w io.Writer, results []UploadResult) error {
	// Convert errors to strings for JSON output
	type jsonResult struct {
		UploadResult
		Error string `json:"error,omitempty"`
	}

	output := make([]jsonResult, len(results))
	for i := range results {
		output[i] = jsonResult{UploadResult: results[i]}
		if results[i].Err != nil {
			output[i].Error = results[i].Err.Error()
		}
	}

	return writeJSON(w, output)
}

// FormatDownload formats download result as JSON.
func (f *JSONFormatter) FormatDownload(w io.Writer, result *DownloadResult) error {
	return writeJSON(w, result)
}

// FormatDelete formats delete results as JSON.
func (f *JSONFormatter) FormatDelete(w io.Writer, results []DeleteResult) error {
	// Convert errors to strings for JSON output
	type jsonResult struct {
		Path    string `json:"path"`
		Deleted bool   `json:"deleted"`
		Error   string `json:"error,omitempty"`
	}

	output := struct {
		Results []jsonResult `json:"results"`
	}{
		Results: make([]jsonResult, len(results)),
	}

	for i, r := range results {
		jr := jsonResult{
			Path:    r.Path,
			Deleted: r.Deleted,
		}
		if r.Err != nil {
			jr.Error = r.Err.Error()
		}
		output.Results[i] = jr
	}

	return writeJSON(w, output)
}

// FormatList formats list results as JSON.
func (f *JSONFormatter) FormatList(w io.Writer, result *ListResult) error {
	return writeJSON(w, result)
}

// FormatAction formats a mkdir, copy or move result as JSON.
func (f *JSONFormatter) FormatAction(w io.Writer, result ActionResult) error {
	return writeJSON(w, result)
}

// FormatError formats an error as JSON.
func (f *JSONFormatter) FormatError(w io.Writer, err error) error {
	output := struct {
		Error string `json:"error"`
	}{
		Error: err.Error(),
	}
	return writeJSON(w, output)
}

// writeJSON writes a value as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatSize formats bytes as human-readable size.
func formatSize(bytes int64) string {
	if bytes < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatProfileList formats a list of profiles as human-readable text.
func (f *HumanFormatter) FormatProfileList(w io.Writer, profiles []Profile, defaultName string, showSecrets bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "  NAME\tENDPOINT\tUSERNAME\tSECRET")

	for i := range profiles {
		p := &profiles[i]
		marker := " "
		if p.Name == defaultName {
			marker = "*"
		}

		username := p.Username
		if username == "" {
			username = "(not set)"
		}

		_, _ = fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\n", marker, p.Name, p.Endpoint, username, maskSecret(p.Secret, showSecrets))
	}

	return tw.Flush()
}

// FormatProfileShow formats a single profile as human-readable text.
func (f *HumanFormatter) FormatProfileShow(w io.Writer, profile Profile, isDefault, showSecrets bool) error {
	_, _ = fmt.Fprintf(w, "Name:     %s", profile.Name)
	if isDefault {
		_, _ = fmt.Fprintf(w, " (default)")
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Endpoint: %s\n", profile.Endpoint)
	_, _ = fmt.Fprintf(w, "Username: %s\n", profile.Username)
	_, _ = fmt.Fprintf(w, "Password: %s\n", maskSecret(profile.Password, showSecrets))
	_, _ = fmt.Fprintf(w, "Secret:   %s\n", maskSecret(profile.Secret, showSecrets))
	return nil
}

type jsonProfile struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
	Secret   string `json:"secret"`
	Default  bool   `json:"default"`
}

func newJSONProfile(p Profile, isDefault, showSecrets bool) jsonProfile {
	return jsonProfile{
		Name:     p.Name,
		Endpoint: p.Endpoint,
		Username: p.Username,
		Password: maskSecret(p.Password, showSecrets),
		Secret:   maskSecret(p.Secret, showSecrets),
		Default:  isDefault,
	}
}

// FormatProfileList formats a list of profiles as JSON.
func (f *JSONFormatter) FormatProfileList(w io.Writer, profiles []Profile, defaultName string, showSecrets bool) error {
	output := struct {
		Profiles []jsonProfile `json:"profiles"`
	}{
		Profiles: make([]jsonProfile, len(profiles)),
	}

	for i := range profiles {
		output.Profiles[i] = newJSONProfile(profiles[i], profiles[i].Name == defaultName, showSecrets)
	}

	return writeJSON(w, output)
}

// FormatProfileShow formats a single profile as JSON.
func (f *JSONFormatter) FormatProfileShow(w io.Writer, profile Profile, isDefault, showSecrets bool) error {
	return writeJSON(w, newJSONProfile(profile, isDefault, showSecrets))
}

// maskSecret masks a secret string, showing only first 4 and last 4 characters.
// If showSecrets is true, returns the original value.
// If the secret is too short, returns all asterisks.
func maskSecret(secret string, showSecrets bool) string {
	if showSecrets {
		return secret
	}
	if secret == "" {
		return "(not set)"
	}
	if len(secret) <= 8 {
		return "********"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
