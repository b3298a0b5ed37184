package normalize

import "testing"

func TestNormalize_RcloneNativePassthrough(t *testing.T) {
	options := map[string]string{"rclone.type": "s3", "rclone.config.endpoint": "https://example.com"}
	res := Normalize("s3", "s3://bucket/prefix", options, "repo-id-1234")

	if res.Backend != "rclone" {
		t.Errorf("Backend = %q, want rclone", res.Backend)
	}
	if res.Options["rclone.config.endpoint"] != "https://example.com" {
		t.Errorf("rclone-native options should pass through unchanged")
	}
}

func TestNormalize_LegacyS3Cloudflare(t *testing.T) {
	options := map[string]string{
		"s3.endpoint": "https://abc.r2.cloudflarestorage.com",
		"s3.bucket":   "b",
		"s3.prefix":   "p",
	}
	res := Normalize("s3", "s3://b/p", options, "12345678-aaaa-bbbb-cccc-ddddeeeeffff")

	if res.Backend != "rclone" {
		t.Fatalf("Backend = %q, want rclone", res.Backend)
	}
	if res.Options["rclone.type"] != "s3" {
		t.Errorf("rclone.type = %q, want s3", res.Options["rclone.type"])
	}
	if res.Options["rclone.config.provider"] != "Cloudflare" {
		t.Errorf("provider = %q, want Cloudflare", res.Options["rclone.config.provider"])
	}
	wantPath := "rclone:glare-12345678:b/p"
	if res.Path != wantPath {
		t.Errorf("Path = %q, want %q", res.Path, wantPath)
	}
}

func TestNormalize_LegacyS3AWSDefaultProvider(t *testing.T) {
	options := map[string]string{
		"s3.endpoint": "https://s3.us-east-1.amazonaws.com",
		"s3.bucket":   "mybucket",
	}
	res := Normalize("s3", "s3://mybucket", options, "repo-0001")

	if res.Options["rclone.config.provider"] != "AWS" {
		t.Errorf("provider = %q, want AWS", res.Options["rclone.config.provider"])
	}
}

func TestNormalize_BoolFlags(t *testing.T) {
	options := map[string]string{
		"s3.endpoint":      "https://example.com",
		"s3.path-style":    "true",
		"s3.disable-tls":   "true",
		"s3.no-verify-ssl": "true",
	}
	res := Normalize("s3", "s3://x", options, "repo-0002")

	if res.Options["rclone.config.force_path_style"] != "true" {
		t.Errorf("missing force_path_style translation")
	}
	if res.Options["rclone.config.disable_http2"] != "true" {
		t.Errorf("missing disable_http2 translation")
	}
	if res.Options["rclone.config.no_check_certificate"] != "true" {
		t.Errorf("missing no_check_certificate translation")
	}
}

func TestNormalize_NonS3BackendUntouched(t *testing.T) {
	options := map[string]string{"some.key": "value"}
	res := Normalize("local", "/var/backups", options, "repo-0003")

	if res.Backend != "local" {
		t.Errorf("Backend = %q, want local (untouched)", res.Backend)
	}
	if res.Path != "/var/backups" {
		t.Errorf("Path = %q, want unchanged", res.Path)
	}
}

func TestNormalize_ExistingRcloneRemoteReused(t *testing.T) {
	options := map[string]string{"rclone.type": "s3", "rclone.remote": "existing"}
	res := Normalize("rclone", "rclone:existing:bucket/dir", options, "repo-0004")

	if res.Path != "rclone:existing:bucket/dir" {
		t.Errorf("Path = %q, want unchanged reuse of existing remote", res.Path)
	}
}
