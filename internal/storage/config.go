package storage

import (
	"fmt"
	"strings"
)

// Type selects the storage backend
type Type string

const (
	TypeGit   Type = "git"
	TypeS3    Type = "s3"
	TypeGCS   Type = "gcs"
	TypeAzure Type = "azure"
	TypeMinIO Type = "minio"
	TypeSFTP  Type = "sftp"
	TypeLocal Type = "local"
)

// SupportedTypes lists every backend type
func SupportedTypes() []Type {
	return []Type{TypeGit, TypeS3, TypeGCS, TypeAzure, TypeMinIO, TypeSFTP, TypeLocal}
}

// Config defines storage backend configuration
type Config struct {
	Type  Type         `mapstructure:"type" yaml:"type"`
	Git   *GitConfig   `mapstructure:"git" yaml:"git,omitempty"`
	S3    *S3Config    `mapstructure:"s3" yaml:"s3,omitempty"`
	GCS   *GCSConfig   `mapstructure:"gcs" yaml:"gcs,omitempty"`
	Azure *AzureConfig `mapstructure:"azure" yaml:"azure,omitempty"`
	MinIO *MinIOConfig `mapstructure:"minio" yaml:"minio,omitempty"`
	SFTP  *SFTPConfig  `mapstructure:"sftp" yaml:"sftp,omitempty"`
	Local *LocalConfig `mapstructure:"local" yaml:"local,omitempty"`
}

// GitConfig for the repository backend. The backup directory is the working tree.
type GitConfig struct {
	Remote string `mapstructure:"remote" yaml:"remote"`
	Binary string `mapstructure:"binary" yaml:"binary,omitempty"`
}

// S3Config for Amazon S3 storage. Empty keys fall back to the default AWS
// credential chain.
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path,omitempty"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Prefix        string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// MinIOConfig for S3-compatible servers
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region,omitempty"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// SFTPConfig for the remote sync backend over SSH
type SFTPConfig struct {
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	User           string `mapstructure:"user" yaml:"user"`
	Password       string `mapstructure:"password" yaml:"password,omitempty"`
	PrivateKeyPath string `mapstructure:"private_key_path" yaml:"private_key_path,omitempty"`
	KnownHostsPath string `mapstructure:"known_hosts_path" yaml:"known_hosts_path,omitempty"`
	RemoteDir      string `mapstructure:"remote_dir" yaml:"remote_dir"`
}

// LocalConfig for the remote sync backend onto a mounted path
type LocalConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ValidationError represents a single invalid setting
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ValidationError) Error() string {
	if e.Value != nil && fmt.Sprint(e.Value) != "" {
		return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{Field: field, Message: message, Value: value})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks that the selected backend has its settings
func (c *Config) Validate() error {
	var errs ValidationErrors

	switch c.Type {
	case TypeGit:
		if c.Git == nil {
			c.Git = &GitConfig{}
		}
		if c.Git.Remote == "" {
			c.Git.Remote = "origin"
		}
	case TypeS3:
		if c.S3 == nil || c.S3.Bucket == "" {
			errs.Add("storage.s3.bucket", "S3 bucket name is required", nil)
		} else {
			if c.S3.Region == "" {
				errs.Add("storage.s3.region", "S3 region is required", nil)
			}
			if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
				errs.Add("storage.s3", "access_key and secret_key must be set together", nil)
			}
		}
	case TypeGCS:
		if c.GCS == nil || c.GCS.Bucket == "" {
			errs.Add("storage.gcs.bucket", "GCS bucket name is required", nil)
		}
	case TypeAzure:
		if c.Azure == nil {
			errs.Add("storage.azure", "Azure storage configuration is required", nil)
			break
		}
		if c.Azure.AccountName == "" {
			errs.Add("storage.azure.account_name", "Azure account name is required", nil)
		}
		if c.Azure.AccountKey == "" {
			errs.Add("storage.azure.account_key", "Azure account key is required", nil)
		}
		if c.Azure.ContainerName == "" {
			errs.Add("storage.azure.container_name", "Azure container name is required", nil)
		}
	case TypeMinIO:
		if c.MinIO == nil {
			errs.Add("storage.minio", "MinIO storage configuration is required", nil)
			break
		}
		if c.MinIO.Endpoint == "" {
			errs.Add("storage.minio.endpoint", "MinIO endpoint is required", nil)
		}
		if c.MinIO.Bucket == "" {
			errs.Add("storage.minio.bucket", "MinIO bucket name is required", nil)
		}
	case TypeSFTP:
		if c.SFTP == nil {
			errs.Add("storage.sftp", "SFTP storage configuration is required", nil)
			break
		}
		if c.SFTP.Host == "" {
			errs.Add("storage.sftp.host", "SFTP host is required", nil)
		}
		if c.SFTP.User == "" {
			errs.Add("storage.sftp.user", "SFTP user is required", nil)
		}
		if c.SFTP.Password == "" && c.SFTP.PrivateKeyPath == "" {
			errs.Add("storage.sftp", "either password or private_key_path is required", nil)
		}
		if c.SFTP.RemoteDir == "" {
			errs.Add("storage.sftp.remote_dir", "remote directory is required", nil)
		}
		if c.SFTP.Port == 0 {
			c.SFTP.Port = 22
		}
	case TypeLocal:
		if c.Local == nil || c.Local.Path == "" {
			errs.Add("storage.local.path", "destination path is required", nil)
		}
	default:
		errs.Add("storage.type", "invalid storage type, must be one of "+joinTypes(), c.Type)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func joinTypes() string {
	types := SupportedTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
