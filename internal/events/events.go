// Package events decodes the two ingress notification shapes: SMTP
// gateway receipt events and direct object-storage notifications. Both
// share a Records wrapper; the eventSource field of the first record
// discriminates before the full parse.
package events

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/ignite/mailflow/internal/errs"
)

// Verdict statuses reported by the SMTP gateway.
const (
	VerdictPass = "PASS"
	VerdictFail = "FAIL"
)

// Verdict is one gateway check result.
type Verdict struct {
	Status string `json:"status"`
}

// Passed reports whether the verdict is present and PASS.
func (v *Verdict) Passed() bool {
	return v != nil && strings.EqualFold(v.Status, VerdictPass)
}

// Failed reports whether the verdict is present and FAIL.
func (v *Verdict) Failed() bool {
	return v != nil && strings.EqualFold(v.Status, VerdictFail)
}

// Verdicts groups the gateway checks carried by a receipt record.
type Verdicts struct {
	SPF   *Verdict
	DKIM  *Verdict
	DMARC *Verdict
	Spam  *Verdict
	Virus *Verdict
}

// MailRecord is the normalized form of one ingress record: where the
// raw mail lives, who sent it, and what the gateway thought of it.
// FromGateway distinguishes receipt records, which carry verdicts, from
// direct storage notifications, which never do.
type MailRecord struct {
	Bucket      string
	Key         string
	Source      string // envelope from address; empty on S3-direct path
	Size        int64  // 0 when unknown
	MessageID   string
	Verdicts    Verdicts
	FromGateway bool
}

type sesEvent struct {
	Records []struct {
		EventSource string `json:"eventSource"`
		SES         struct {
			Mail struct {
				MessageID   string   `json:"messageId"`
				Source      string   `json:"source"`
				Destination []string `json:"destination"`
			} `json:"mail"`
			Receipt struct {
				Recipients   []string `json:"recipients"`
				SPFVerdict   *Verdict `json:"spfVerdict"`
				DKIMVerdict  *Verdict `json:"dkimVerdict"`
				DMARCVerdict *Verdict `json:"dmarcVerdict"`
				SpamVerdict  *Verdict `json:"spamVerdict"`
				VirusVerdict *Verdict `json:"virusVerdict"`
				Action       struct {
					Type       string `json:"type"`
					BucketName string `json:"bucketName"`
					ObjectKey  string `json:"objectKey"`
				} `json:"action"`
			} `json:"receipt"`
		} `json:"ses"`
	} `json:"Records"`
}

type s3Event struct {
	Records []struct {
		EventSource string `json:"eventSource"`
		S3          struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

type probe struct {
	Records []struct {
		EventSource string `json:"eventSource"`
	} `json:"Records"`
}

// Parse decodes an ingress notification body into mail records.
// defaultBucket supplies the raw-mail bucket when a gateway record
// omits its action bucket.
func Parse(body []byte, defaultBucket string) ([]MailRecord, error) {
	var p probe
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errs.Wrap(errs.Validation, err, "decoding ingress event")
	}
	if len(p.Records) == 0 {
		return nil, errs.New(errs.Validation, "ingress event carries no records")
	}

	switch p.Records[0].EventSource {
	case "aws:ses":
		return parseSES(body, defaultBucket)
	case "aws:s3":
		return parseS3(body)
	default:
		return nil, errs.New(errs.Validation, "unrecognized event source %q", p.Records[0].EventSource)
	}
}

func parseSES(body []byte, defaultBucket string) ([]MailRecord, error) {
	var ev sesEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, errs.Wrap(errs.Validation, err, "decoding gateway event")
	}

	records := make([]MailRecord, 0, len(ev.Records))
	for _, r := range ev.Records {
		bucket := r.SES.Receipt.Action.BucketName
		if bucket == "" {
			bucket = defaultBucket
		}
		key := r.SES.Receipt.Action.ObjectKey
		if key == "" {
			key = r.SES.Mail.MessageID
		}
		records = append(records, MailRecord{
			Bucket:      bucket,
			Key:         key,
			Source:      r.SES.Mail.Source,
			MessageID:   r.SES.Mail.MessageID,
			FromGateway: true,
			Verdicts: Verdicts{
				SPF:   r.SES.Receipt.SPFVerdict,
				DKIM:  r.SES.Receipt.DKIMVerdict,
				DMARC: r.SES.Receipt.DMARCVerdict,
				Spam:  r.SES.Receipt.SpamVerdict,
				Virus: r.SES.Receipt.VirusVerdict,
			},
		})
	}
	return records, nil
}

func parseS3(body []byte) ([]MailRecord, error) {
	var ev s3Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, errs.Wrap(errs.Validation, err, "decoding storage event")
	}

	records := make([]MailRecord, 0, len(ev.Records))
	for _, r := range ev.Records {
		// Object keys arrive URL-encoded in storage notifications
		key := r.S3.Object.Key
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		records = append(records, MailRecord{
			Bucket: r.S3.Bucket.Name,
			Key:    key,
			Size:   r.S3.Object.Size,
		})
	}
	return records, nil
}
