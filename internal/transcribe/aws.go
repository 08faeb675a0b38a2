package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awstranscribe "github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/rs/zerolog"
)

// AWSClient submits jobs to Amazon Transcribe. Jobs always request SRT
// subtitles numbered from 1, with speaker labels and alternatives off.
type AWSClient struct {
	client          *awstranscribe.Client
	subtitleFormats []types.SubtitleFormat
	log             zerolog.Logger
}

// AWSOptions tunes the client. Endpoint overrides the service URL (tests,
// VPC endpoints). SubtitleFormat defaults to srt.
type AWSOptions struct {
	Endpoint       string
	SubtitleFormat string
}

// NewAWSClient creates a Transcribe client from a loaded SDK config.
func NewAWSClient(awsCfg aws.Config, opts AWSOptions, log zerolog.Logger) *AWSClient {
	var tOpts []func(*awstranscribe.Options)
	if opts.Endpoint != "" {
		tOpts = append(tOpts, func(o *awstranscribe.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}

	format := types.SubtitleFormat(strings.ToLower(opts.SubtitleFormat))
	if format == "" {
		format = types.SubtitleFormatSrt
	}

	return &AWSClient{
		client:          awstranscribe.NewFromConfig(awsCfg, tOpts...),
		subtitleFormats: []types.SubtitleFormat{format},
		log:             log.With().Str("component", "aws-transcribe").Logger(),
	}
}

func (c *AWSClient) Name() string { return "aws-transcribe" }

// StartJob submits the job. It returns once the service has accepted it; the
// transcript appears in the output bucket later.
func (c *AWSClient) StartJob(ctx context.Context, req JobRequest) error {
	in := &awstranscribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(req.Name),
		Media: &types.Media{
			MediaFileUri: aws.String(req.MediaURI),
		},
		MediaFormat:      types.MediaFormat(req.MediaFormat),
		LanguageCode:     types.LanguageCode(req.LanguageCode),
		OutputBucketName: aws.String(req.OutputBucket),
		OutputKey:        aws.String(req.OutputKey),
		Subtitles: &types.Subtitles{
			Formats:          c.subtitleFormats,
			OutputStartIndex: aws.Int32(1),
		},
		Settings: &types.Settings{
			ShowSpeakerLabels: aws.Bool(false),
			ShowAlternatives:  aws.Bool(false),
		},
	}

	out, err := c.client.StartTranscriptionJob(ctx, in)
	if err != nil {
		return fmt.Errorf("start transcription job %s: %w", req.Name, err)
	}

	status := ""
	if out.TranscriptionJob != nil {
		status = string(out.TranscriptionJob.TranscriptionJobStatus)
	}
	c.log.Info().
		Str("job", req.Name).
		Str("media", req.MediaURI).
		Str("status", status).
		Msg("transcription job started")
	return nil
}

// JobStatus fetches the current job state. Unknown jobs yield ErrJobNotFound.
func (c *AWSClient) JobStatus(ctx context.Context, name string) (*JobStatus, error) {
	out, err := c.client.GetTranscriptionJob(ctx, &awstranscribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(name),
	})
	if err != nil {
		if isJobNotFound(err) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get transcription job %s: %w", name, err)
	}
	if out.TranscriptionJob == nil {
		return nil, ErrJobNotFound
	}

	job := out.TranscriptionJob
	st := &JobStatus{
		Name:          aws.ToString(job.TranscriptionJobName),
		Status:        string(job.TranscriptionJobStatus),
		FailureReason: aws.ToString(job.FailureReason),
	}
	if job.Subtitles != nil {
		st.SubtitleURIs = job.Subtitles.SubtitleFileUris
	}
	return st, nil
}

// The service reports unknown job names as a BadRequestException.
func isJobNotFound(err error) bool {
	var nf *types.NotFoundException
	if errors.As(err, &nf) {
		return true
	}
	var br *types.BadRequestException
	if errors.As(err, &br) {
		return strings.Contains(strings.ToLower(br.ErrorMessage()), "couldn't be found")
	}
	return false
}
