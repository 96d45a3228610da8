package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-backup-sync/internal/errors"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"git defaults remote", Config{Type: TypeGit}, ""},
		{"s3 ok", Config{Type: TypeS3, S3: &S3Config{Bucket: "b", Region: "eu-west-1"}}, ""},
		{"s3 missing bucket", Config{Type: TypeS3}, "S3 bucket name is required"},
		{"s3 half credentials", Config{Type: TypeS3, S3: &S3Config{Bucket: "b", Region: "r", AccessKey: "AK"}}, "must be set together"},
		{"gcs missing bucket", Config{Type: TypeGCS, GCS: &GCSConfig{}}, "GCS bucket name is required"},
		{"azure missing key", Config{Type: TypeAzure, Azure: &AzureConfig{AccountName: "a", ContainerName: "c"}}, "Azure account key is required"},
		{"minio missing endpoint", Config{Type: TypeMinIO, MinIO: &MinIOConfig{Bucket: "b"}}, "MinIO endpoint is required"},
		{"sftp needs auth", Config{Type: TypeSFTP, SFTP: &SFTPConfig{Host: "h", User: "u", RemoteDir: "/d"}}, "either password or private_key_path"},
		{"local needs path", Config{Type: TypeLocal, Local: &LocalConfig{}}, "destination path is required"},
		{"unknown type", Config{Type: "ftp"}, "invalid storage type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateAppliesDefaults(t *testing.T) {
	git := Config{Type: TypeGit}
	require.NoError(t, git.Validate())
	assert.Equal(t, "origin", git.Git.Remote)

	sftp := Config{Type: TypeSFTP, SFTP: &SFTPConfig{Host: "h", User: "u", Password: "p", RemoteDir: "/d"}}
	require.NoError(t, sftp.Validate())
	assert.Equal(t, 22, sftp.SFTP.Port)
}

func TestNew_SelectsVariant(t *testing.T) {
	ctx := context.Background()

	backend, err := New(ctx, Config{Type: TypeGit, Git: &GitConfig{Remote: "backup"}}, Options{RetentionDays: 7})
	require.NoError(t, err)
	assert.IsType(t, &Repository{}, backend)
	assert.Equal(t, "git:backup", backend.Name())

	backend, err = New(ctx, Config{Type: TypeLocal, Local: &LocalConfig{Path: "/mnt/backups"}}, Options{DeleteLocal: true})
	require.NoError(t, err)
	assert.IsType(t, &RemoteSync{}, backend)

	backend, err = New(ctx, Config{Type: TypeSFTP, SFTP: &SFTPConfig{Host: "h", User: "u", Password: "p", RemoteDir: "/d"}}, Options{})
	require.NoError(t, err)
	assert.IsType(t, &RemoteSync{}, backend)

	backend, err = New(ctx, Config{Type: TypeS3, S3: &S3Config{Bucket: "b", Region: "us-east-1", AccessKey: "AK", SecretKey: "SK"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "s3://b", backend.Name())

	backend, err = New(ctx, Config{Type: TypeMinIO, MinIO: &MinIOConfig{Endpoint: "localhost:9000", Bucket: "b", AccessKey: "a", SecretKey: "s"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "minio://b", backend.Name())

	backend, err = New(ctx, Config{Type: TypeAzure, Azure: &AzureConfig{AccountName: "acct", AccountKey: "c2VjcmV0", ContainerName: "backups"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "azure://backups", backend.Name())
}

func TestNew_InvalidConfigIsConfigurationError(t *testing.T) {
	_, err := New(context.Background(), Config{Type: TypeS3}, Options{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}
