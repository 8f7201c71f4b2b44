package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/WhileEndless/go-desync/pkg/batch"
	"github.com/WhileEndless/go-desync/pkg/engine"
	"github.com/WhileEndless/go-desync/pkg/length"
	"github.com/WhileEndless/go-desync/pkg/payload"
)

// Transform names accepted in a request file.
const (
	TransformNone     = ""
	TransformUpdateCL = "update-cl"
	TransformTECL     = "te-cl"
	TransformCLTE     = "cl-te"
	TransformRechunk  = "rechunk"
)

// RequestSpec describes one request in a batch file.
type RequestSpec struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url,omitempty"`
	Host        string `yaml:"host,omitempty"`
	Port        int    `yaml:"port,omitempty"`
	TLS         *bool  `yaml:"tls,omitempty"`
	Request     string `yaml:"request,omitempty"`
	RequestFile string `yaml:"request_file,omitempty"`
	Transform   string `yaml:"transform,omitempty"`
	Typed       bool   `yaml:"typed,omitempty"`
}

// RequestFile is the top-level batch file.
type RequestFile struct {
	ProbePath string        `yaml:"probe_path,omitempty"`
	Requests  []RequestSpec `yaml:"requests"`
}

// LoadRequests reads a batch file and turns each entry into a job. Request
// text is CRLF-normalized unless the entry is marked typed, then the named
// transform is applied.
func LoadRequests(path string) ([]batch.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("request file: %w", err)
	}
	var file RequestFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("request file %s: %w", path, err)
	}
	if len(file.Requests) == 0 {
		return nil, fmt.Errorf("request file %s: no requests", path)
	}

	var opts []payload.Option
	if file.ProbePath != "" {
		opts = append(opts, payload.WithProbePath(file.ProbePath))
	}

	dir := filepath.Dir(path)
	jobs := make([]batch.Job, 0, len(file.Requests))
	for i, spec := range file.Requests {
		job, err := spec.job(dir, opts)
		if err != nil {
			return nil, fmt.Errorf("request file: requests[%d] (%s): %w", i, spec.Name, err)
		}
		if job.Name == "" {
			job.Name = fmt.Sprintf("request-%d", i+1)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s RequestSpec) job(dir string, opts []payload.Option) (batch.Job, error) {
	job := batch.Job{Name: s.Name, URL: s.URL}

	switch {
	case s.URL != "":
	case s.Host != "" && s.Port > 0:
		job.Target = engine.TargetFor(s.Host, s.Port)
		if s.TLS != nil {
			job.Target.Secure = *s.TLS
		}
	default:
		return job, fmt.Errorf("needs url or host and port")
	}

	raw := s.Request
	if s.RequestFile != "" {
		if raw != "" {
			return job, fmt.Errorf("request and request_file are exclusive")
		}
		p := s.RequestFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return job, err
		}
		raw = string(data)
	}
	if strings.TrimSpace(raw) == "" {
		return job, fmt.Errorf("empty request")
	}
	if !s.Typed {
		raw = length.NormalizeCRLF(raw)
	}

	out, err := ApplyTransform(s.Transform, raw, opts...)
	if err != nil {
		return job, err
	}
	job.Request = out
	return job, nil
}

// ApplyTransform runs the named payload builder over req.
func ApplyTransform(name, req string, opts ...payload.Option) (string, error) {
	switch strings.ToLower(name) {
	case TransformNone:
		return req, nil
	case TransformUpdateCL:
		return payload.UpdateContentLength(req)
	case TransformTECL:
		return payload.BuildTECLPrefix(req, opts...)
	case TransformCLTE:
		return payload.BuildCLTEPrefix(req, opts...)
	case TransformRechunk:
		return payload.RecomputeChunkSize(req)
	}
	return req, fmt.Errorf("unknown transform %q", name)
}
