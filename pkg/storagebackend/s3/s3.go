// Package s3 implements storagebackend.Backend over an S3-compatible
// object store, supplementing the distilled specification's single file
// backend with the second backend the original implementation ships.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/cuemby/blockvault/pkg/blockhash"
	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
	"github.com/cuemby/blockvault/pkg/storagebackend"
)

// ErrNotFound is returned when an object key does not exist in the bucket.
// It is the package's storagebackend.ErrNotFound so callers that only
// depend on the generic Backend contract can still recognize it.
var ErrNotFound = storagebackend.ErrNotFound

// Config configures an s3 Backend.
type Config struct {
	Bucket                 string
	Region                 string
	Endpoint               string // non-empty for S3-compatible services
	AccessKeyID            string
	SecretAccessKey        string
	ForcePathStyle         bool
	HMACKey                []byte
	Limits                 storagebackend.Limits
	ConsistencyCheckWrites bool
}

// Backend stores blocks and version metadata as objects in an S3 bucket.
type Backend struct {
	client                 *s3.S3
	bucket                 string
	hmacKey                []byte
	throttle               *storagebackend.Throttle
	consistencyCheckWrites bool
}

// New builds an s3 Backend from cfg.
func New(cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, blockvaulterrors.Configurationf("s3 storage requires a bucket")
	}

	awsCfg := aws.NewConfig().WithRegion(cfg.Region).WithS3ForcePathStyle(cfg.ForcePathStyle)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindConfiguration, err, "building s3 session")
	}

	return &Backend{
		client:                 s3.New(sess),
		bucket:                 cfg.Bucket,
		hmacKey:                cfg.HMACKey,
		throttle:               storagebackend.NewThrottle(cfg.Limits),
		consistencyCheckWrites: cfg.ConsistencyCheckWrites,
	}, nil
}

func (b *Backend) WriteBlock(ctx context.Context, uid blockhash.UID, ciphertext []byte, meta storagebackend.ObjectMetadata) error {
	key := storagebackend.BlockKey(uid)
	return b.throttle.Write(ctx, len(ciphertext), func() error {
		if err := b.putObject(ctx, key, ciphertext, meta); err != nil {
			return err
		}
		if b.consistencyCheckWrites {
			got, gotMeta, err := b.getObject(ctx, key)
			if err != nil {
				return blockvaulterrors.Internalf("consistency check read of %s failed: %v", key, err)
			}
			if !bytes.Equal(got, ciphertext) || gotMeta.Checksum != meta.Checksum {
				return blockvaulterrors.Internalf("consistency check mismatch for %s", key)
			}
		}
		return nil
	})
}

func (b *Backend) putObject(ctx context.Context, key string, data []byte, meta storagebackend.ObjectMetadata) error {
	signed, err := storagebackend.SignObjectMetadata(meta, b.hmacKey)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(signed)
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "marshaling object metadata")
	}

	return storagebackend.Retry(ctx, func() error {
		_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
			Metadata: map[string]*string{
				"blockvault-meta": aws.String(string(metaJSON)),
			},
		})
		return err
	})
}

func (b *Backend) ReadBlock(ctx context.Context, uid blockhash.UID) ([]byte, storagebackend.ObjectMetadata, error) {
	key := storagebackend.BlockKey(uid)
	var data []byte
	var meta storagebackend.ObjectMetadata
	err := b.throttle.Read(ctx, 0, func() error {
		var err error
		data, meta, err = b.getObject(ctx, key)
		return err
	})
	return data, meta, err
}

func (b *Backend) getObject(ctx context.Context, key string) ([]byte, storagebackend.ObjectMetadata, error) {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storagebackend.ObjectMetadata{}, ErrNotFound
		}
		return nil, storagebackend.ObjectMetadata{}, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "getting object %s", key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, storagebackend.ObjectMetadata{}, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "reading object body %s", key)
	}

	metaJSON, ok := out.Metadata["Blockvault-Meta"]
	if !ok || metaJSON == nil {
		return nil, storagebackend.ObjectMetadata{}, blockvaulterrors.Internalf("object %s is missing its blockvault-meta header", key)
	}
	var meta storagebackend.ObjectMetadata
	if err := json.Unmarshal([]byte(*metaJSON), &meta); err != nil {
		return nil, storagebackend.ObjectMetadata{}, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "unmarshaling object metadata %s", key)
	}
	if err := storagebackend.VerifyObjectMetadata(meta, b.hmacKey); err != nil {
		return nil, storagebackend.ObjectMetadata{}, err
	}
	return data, meta, nil
}

func (b *Backend) ReadBlockLength(ctx context.Context, uid blockhash.UID) (int, error) {
	_, meta, err := b.ReadBlock(ctx, uid)
	if err != nil {
		return 0, err
	}
	return meta.ObjectSize, nil
}

func (b *Backend) RemoveBlock(ctx context.Context, uid blockhash.UID) error {
	return b.removeKey(ctx, storagebackend.BlockKey(uid))
}

func (b *Backend) removeKey(ctx context.Context, key string) error {
	_, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "checking object %s", key)
	}
	_, err = b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "deleting object %s", key)
	}
	return nil
}

func (b *Backend) ListBlocks(ctx context.Context, prefix string) ([]blockhash.UID, error) {
	fullPrefix := "blocks/"
	var uids []blockhash.UID
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(fullPrefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			name := (*obj.Key)[strings.LastIndex(*obj.Key, "/")+1:]
			if prefix != "" && !strings.HasPrefix(name, prefix) {
				continue
			}
			if uid, ok := parseUIDText(name); ok {
				uids = append(uids, uid)
			}
		}
		return true
	})
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "listing blocks")
	}
	return uids, nil
}

func (b *Backend) WriteVersionMeta(ctx context.Context, versionUID string, doc []byte) error {
	key := storagebackend.VersionKey(versionUID)
	return storagebackend.Retry(ctx, func() error {
		_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(doc),
		})
		return err
	})
}

func (b *Backend) ReadVersionMeta(ctx context.Context, versionUID string) ([]byte, error) {
	key := storagebackend.VersionKey(versionUID)
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "getting version metadata %s", versionUID)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *Backend) RemoveVersionMeta(ctx context.Context, versionUID string) error {
	return b.removeKey(ctx, storagebackend.VersionKey(versionUID))
}

func (b *Backend) ListVersions(ctx context.Context) ([]string, error) {
	var versionUIDs []string
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String("versions/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			versionUIDs = append(versionUIDs, (*obj.Key)[len("versions/"):])
		}
		return true
	})
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "listing versions")
	}
	return versionUIDs, nil
}

func (b *Backend) Close() error { return nil }

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}

func parseUIDText(text string) (blockhash.UID, bool) {
	if len(text) != 24 {
		return blockhash.UID{}, false
	}
	left, err := strconv.ParseUint(text[:8], 16, 32)
	if err != nil {
		return blockhash.UID{}, false
	}
	right, err := strconv.ParseUint(text[8:], 16, 64)
	if err != nil {
		return blockhash.UID{}, false
	}
	return blockhash.UID{Left: uint32(left), Right: right}, true
}

var _ storagebackend.Backend = (*Backend)(nil)
