// Package normalize derives the effective wire-level backend and options
// sent to a worker, translating legacy S3 configuration into rclone form.
package normalize

import (
	"strings"
)

// Result is the effective tuple sent to the worker for one flow invocation.
type Result struct {
	Backend string
	Path    string
	Options map[string]string
}

var s3ToRcloneConfig = map[string]string{
	"s3.endpoint":         "rclone.config.endpoint",
	"s3.region":           "rclone.config.region",
	"s3.access-key-id":    "rclone.config.access_key_id",
	"s3.secret-access-key": "rclone.config.secret_access_key",
	"s3.session-token":    "rclone.config.session_token",
	"s3.profile":          "rclone.config.profile",
	"s3.storage-class":    "rclone.config.storage_class",
	"s3.acl":              "rclone.config.acl",
}

var s3BoolFlags = map[string]string{
	"s3.path-style":     "rclone.config.force_path_style",
	"s3.disable-tls":    "rclone.config.disable_http2",
	"s3.no-verify-ssl":  "rclone.config.no_check_certificate",
}

// Normalize computes the effective (backend, path, options) tuple sent to a
// worker for one of init/backup/prune/snapshot-list/check/repair/restore.
// repoID is used to synthesize a stable rclone remote name when the stored
// path is not already in rclone form.
func Normalize(backend, path string, options map[string]string, repoID string) Result {
	merged := make(map[string]string, len(options))
	for k, v := range options {
		merged[k] = v
	}

	if !hasRcloneNative(merged) && backend == "s3" && hasLegacyS3(merged) {
		enrichFromLegacyS3(merged)
	}

	forceRclone := backend == "rclone" || (backend == "s3" && (hasRcloneNative(merged) || hasLegacyS3(options)))

	effectiveBackend := backend
	effectivePath := path
	if forceRclone {
		effectiveBackend = "rclone"
		effectivePath = rewritePath(path, merged, repoID)
	}

	return Result{Backend: effectiveBackend, Path: effectivePath, Options: merged}
}

func hasRcloneNative(options map[string]string) bool {
	for k := range options {
		if strings.HasPrefix(k, "rclone.type") || strings.HasPrefix(k, "rclone.config.") {
			return true
		}
	}
	return false
}

func hasLegacyS3(options map[string]string) bool {
	for k := range options {
		if strings.HasPrefix(k, "s3.") {
			return true
		}
	}
	return false
}

func enrichFromLegacyS3(options map[string]string) {
	for legacy, rclone := range s3ToRcloneConfig {
		if v, ok := options[legacy]; ok {
			options[rclone] = v
		}
	}
	for legacy, rclone := range s3BoolFlags {
		if v, ok := options[legacy]; ok && v == "true" {
			options[rclone] = "true"
		}
	}

	if _, ok := options["rclone.type"]; !ok {
		options["rclone.type"] = "s3"
	}
	if _, ok := options["rclone.config.provider"]; !ok {
		endpoint := options["rclone.config.endpoint"]
		if strings.Contains(endpoint, "r2.cloudflarestorage.com") {
			options["rclone.config.provider"] = "Cloudflare"
		} else {
			options["rclone.config.provider"] = "AWS"
		}
	}
}

func rewritePath(path string, options map[string]string, repoID string) string {
	if strings.HasPrefix(path, "rclone:") {
		return path
	}

	remote := options["rclone.remote"]
	if remote == "" {
		remote = "glare-" + shortID(repoID)
		options["rclone.remote"] = remote
	}

	if strings.HasPrefix(path, "s3:") && options["s3.bucket"] != "" {
		bucket := options["s3.bucket"]
		if prefix := options["s3.prefix"]; prefix != "" {
			return "rclone:" + remote + ":" + bucket + "/" + prefix
		}
		return "rclone:" + remote + ":" + bucket
	}

	return "rclone:" + remote + ":" + pathPart(path)
}

// pathPart extracts the trailing path component from a URL-form repository
// path, stripping any scheme prefix.
func pathPart(path string) string {
	if idx := strings.Index(path, "://"); idx >= 0 {
		return strings.TrimPrefix(path[idx+3:], "/")
	}
	if idx := strings.Index(path, ":"); idx >= 0 {
		return strings.TrimPrefix(path[idx+1:], "/")
	}
	return strings.TrimPrefix(path, "/")
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
