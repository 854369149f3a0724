package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mediagit/mediagit/mgerr"
)

// S3Config configures the S3-compatible backend. Endpoint may point at AWS
// S3 or any S3-compatible object store (minio, R2, etc.).
type S3Config struct {
	Endpoint        string // e.g. "https://s3.us-east-1.amazonaws.com"
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string // optional key prefix within the bucket
	HTTPClient      *http.Client
}

// S3 is a minimal S3-compatible REST client implementing KV. It signs
// requests with AWS Signature Version 4 and speaks just enough of the S3
// API (PUT/GET/HEAD/DELETE object, list-objects-v2) to back an object
// store; it intentionally does not pull in a full AWS SDK.
type S3 struct {
	cfg    S3Config
	client *http.Client
}

// NewS3 constructs an S3-compatible backend from cfg.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" || cfg.Endpoint == "" {
		return nil, mgerr.New(mgerr.IO, "s3: bucket and endpoint are required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &S3{cfg: cfg, client: cfg.HTTPClient}, nil
}

func (s *S3) objectKey(key string) string {
	if s.cfg.Prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.cfg.Prefix, "/") + "/" + key
}

func (s *S3) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(s.cfg.Endpoint, "/"), s.cfg.Bucket, s.objectKey(key))
}

func (s *S3) do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "parse s3 url")
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "build s3 request")
	}
	s.sign(req, u, body)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "s3 request failed")
	}
	return resp, nil
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.do(ctx, http.MethodGet, s.objectURL(key), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, mgerr.Wrap(mgerr.IO, err, "read s3 response body")
		}
		return data, nil
	case http.StatusNotFound:
		return nil, mgerr.Newf(mgerr.NotFound, "key %q not found", key)
	default:
		return nil, mgerr.Newf(mgerr.IO, "s3 get %s: unexpected status %d", key, resp.StatusCode)
	}
}

func (s *S3) Put(ctx context.Context, key string, value []byte) error {
	resp, err := s.do(ctx, http.MethodPut, s.objectURL(key), value)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return mgerr.Newf(mgerr.IO, "s3 put %s: unexpected status %d", key, resp.StatusCode)
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := s.do(ctx, http.MethodHead, s.objectURL(key), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	resp, err := s.do(ctx, http.MethodDelete, s.objectURL(key), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return mgerr.Newf(mgerr.IO, "s3 delete %s: unexpected status %d", key, resp.StatusCode)
	}
	return nil
}

type listBucketResult struct {
	Contents []struct {
		Key string `xml:"Key"`
	} `xml:"Contents"`
	IsTruncated    bool   `xml:"IsTruncated"`
	NextContToken  string `xml:"NextContinuationToken"`
	ContToken      string `xml:"ContinuationToken"`
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	base := fmt.Sprintf("%s/%s", strings.TrimSuffix(s.cfg.Endpoint, "/"), s.cfg.Bucket)
	fullPrefix := s.objectKey(prefix)

	var out []string
	token := ""
	for {
		q := url.Values{}
		q.Set("list-type", "2")
		q.Set("prefix", fullPrefix)
		if token != "" {
			q.Set("continuation-token", token)
		}
		resp, err := s.do(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, mgerr.Wrap(mgerr.IO, err, "read s3 list body")
		}
		if resp.StatusCode != http.StatusOK {
			return nil, mgerr.Newf(mgerr.IO, "s3 list: unexpected status %d", resp.StatusCode)
		}
		var parsed listBucketResult
		if err := xml.Unmarshal(body, &parsed); err != nil {
			return nil, mgerr.Wrap(mgerr.Corrupt, err, "parse s3 list response")
		}
		for _, c := range parsed.Contents {
			out = append(out, strings.TrimPrefix(c.Key, strings.TrimSuffix(s.cfg.Prefix, "/")+"/"))
		}
		if !parsed.IsTruncated {
			break
		}
		token = parsed.NextContToken
	}
	sort.Strings(out)
	return out, nil
}

func (s *S3) Close() error { return nil }

// sign applies AWS Signature Version 4 to req, the minimal subset needed
// for single-part PUT/GET/HEAD/DELETE/LIST requests against S3-compatible
// endpoints.
func (s *S3) sign(req *http.Request, u *url.URL, body []byte) {
	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	payloadHash := sha256Hex(body)
	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("Host", u.Host)

	canonicalHeaders := fmt.Sprintf("host:%s\nx-amz-content-sha256:%s\nx-amz-date:%s\n", u.Host, payloadHash, amzDate)
	signedHeaders := "host;x-amz-content-sha256;x-amz-date"

	canonicalRequest := strings.Join([]string{
		req.Method,
		u.EscapedPath(),
		u.RawQuery,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := fmt.Sprintf("%s/%s/s3/aws4_request", dateStamp, s.cfg.Region)
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := s.deriveSigningKey(dateStamp)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	auth := fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		s.cfg.AccessKeyID, scope, signedHeaders, signature)
	req.Header.Set("Authorization", auth)
}

func (s *S3) deriveSigningKey(dateStamp string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+s.cfg.SecretAccessKey), dateStamp)
	kRegion := hmacSHA256(kDate, s.cfg.Region)
	kService := hmacSHA256(kRegion, "s3")
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
