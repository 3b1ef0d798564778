package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"
)

// MinioOptions 描述 S3 兼容对象存储的连接参数。
type MinioOptions struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
	UseSSL    bool
}

// minioMarkerConcurrency 限制读取代标记对象时的并发请求数。
const minioMarkerConcurrency = 8

// NewMinioStorage 连接 MinIO/S3，必要时创建 bucket。对象布局：
//
//	<Prefix><generation>/.generation   # 标记对象（名称 + 创建时间）
//	<Prefix><generation>/<entry key>   # 编码后的快照
func NewMinioStorage(ctx context.Context, opts MinioOptions) (Storage, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("minio endpoint and bucket required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	prefix := strings.TrimPrefix(opts.Prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return newGenerationStore(&minioBackend{
		client: client,
		bucket: opts.Bucket,
		prefix: prefix,
	}), nil
}

type minioBackend struct {
	client *minio.Client
	bucket string
	prefix string
}

func (b *minioBackend) generationPrefix(name string) string {
	return b.prefix + url.PathEscape(name) + "/"
}

func (b *minioBackend) markerName(name string) string {
	return b.generationPrefix(name) + generationMarker
}

func (b *minioBackend) objectName(gen, key string) string {
	return b.generationPrefix(gen) + key
}

func (b *minioBackend) createGeneration(ctx context.Context, name string, created time.Time) error {
	if _, err := b.client.StatObject(ctx, b.bucket, b.markerName(name), minio.StatObjectOptions{}); err == nil {
		return nil
	} else if !isNoSuchKey(err) {
		return err
	}
	payload, err := json.Marshal(markerFile{Name: name, Created: created})
	if err != nil {
		return err
	}
	return b.putObject(ctx, b.markerName(name), payload, "application/json")
}

func (b *minioBackend) generations(ctx context.Context) ([]generation, error) {
	// 提前返回时取消 ctx，minio-go 的列举 goroutine 才会退出。
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var prefixes []string
	for object := range b.client.ListObjects(listCtx, b.bucket, minio.ListObjectsOptions{Prefix: b.prefix}) {
		if object.Err != nil {
			return nil, object.Err
		}
		if strings.HasSuffix(object.Key, "/") {
			prefixes = append(prefixes, object.Key)
		}
	}

	var (
		mu     sync.Mutex
		result []generation
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(minioMarkerConcurrency)
	for _, p := range prefixes {
		markerObject := p + generationMarker
		eg.Go(func() error {
			data, err := b.getObject(egCtx, markerObject)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			var marker markerFile
			if err := json.Unmarshal(data, &marker); err != nil || marker.Name == "" {
				return nil
			}
			mu.Lock()
			result = append(result, generation{Name: marker.Name, Created: marker.Created})
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (b *minioBackend) dropGeneration(ctx context.Context, name string) (bool, error) {
	if _, err := b.client.StatObject(ctx, b.bucket, b.markerName(name), minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	if err := b.client.RemoveObject(ctx, b.bucket, b.markerName(name), minio.RemoveObjectOptions{}); err != nil {
		return false, err
	}

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := make(chan minio.ObjectInfo)
	listErr := make(chan error, 1)
	go func() {
		defer close(objects)
		for object := range b.client.ListObjects(listCtx, b.bucket, minio.ListObjectsOptions{
			Prefix:    b.generationPrefix(name),
			Recursive: true,
		}) {
			if object.Err != nil {
				listErr <- object.Err
				return
			}
			select {
			case objects <- object:
			case <-listCtx.Done():
				return
			}
		}
	}()

	var firstErr error
	for removeErr := range b.client.RemoveObjects(ctx, b.bucket, objects, minio.RemoveObjectsOptions{}) {
		if firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", removeErr.ObjectName, removeErr.Err)
		}
	}
	select {
	case err := <-listErr:
		if firstErr == nil {
			firstErr = err
		}
	default:
	}
	return true, firstErr
}

func (b *minioBackend) get(ctx context.Context, gen, key string) ([]byte, error) {
	return b.getObject(ctx, b.objectName(gen, key))
}

func (b *minioBackend) put(ctx context.Context, gen, key string, data []byte) error {
	return b.putObject(ctx, b.objectName(gen, key), data, "application/octet-stream")
}

func (b *minioBackend) remove(ctx context.Context, gen, key string) (bool, error) {
	name := b.objectName(gen, key)
	if _, err := b.client.StatObject(ctx, b.bucket, name, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	if err := b.client.RemoveObject(ctx, b.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return false, err
	}
	return true, nil
}

func (b *minioBackend) list(ctx context.Context, gen string) ([]string, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	prefix := b.generationPrefix(gen)
	var keys []string
	for object := range b.client.ListObjects(listCtx, b.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, object.Err
		}
		key := strings.TrimPrefix(object.Key, prefix)
		if key == "" || strings.HasPrefix(key, ".") {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (b *minioBackend) close() error {
	return nil
}

func (b *minioBackend) getObject(ctx context.Context, name string) ([]byte, error) {
	object, err := b.client.GetObject(ctx, b.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (b *minioBackend) putObject(ctx context.Context, name string, data []byte, contentType string) error {
	_, err := b.client.PutObject(ctx, b.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
