// Package sdpproc is the SDP pre-parse/rewrite collaborator the
// negotiation state machine calls through a narrow interface (spec.md §1
// keeps SDP parser/rewriter internals an external collaborator). Processor
// is that interface; Default is the github.com/pion/sdp/v3-backed
// implementation every instance of this core actually runs.
//
// MediaCounts is grounded on routing/invite.go's extractSDPInfo (unmarshal
// with pion/sdp/v3, walk MediaDescriptions, read ConnectionInformation),
// generalized from "first audio line only" to "count audio/video/data
// lines, negotiate only the first of each" per spec.md §4.5. Anonymize and
// Merge are grounded on rtpmanager/sdp/builder.go's attribute-assembly
// pattern (building a []sdp.Attribute by appending sdp.Attribute{Key,
// Value} structs), generalized from "append static codec attributes" to
// "strip WebRTC-specific attributes" / "append negotiated WebRTC lines".
package sdpproc

import (
	"fmt"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

// MediaCounts is the result of pre-parsing an SDP body.
type MediaCounts struct {
	Audio, Video, Data int
	HasSCTP            bool
}

// NegotiateFirst reports whether more than one line of a kind was present
// (spec: "more than one line of any kind is accepted but only the first is
// negotiated (warn)").
func (m MediaCounts) NegotiateFirst() (multiAudio, multiVideo, multiData bool) {
	return m.Audio > 1, m.Video > 1, m.Data > 1
}

// ICECredentials is the ufrag/pwd pair merged into an outbound offer or
// answer.
type ICECredentials struct {
	Ufrag string
	Pwd   string
}

// MergeOptions carries everything the module-initiated JSEP path (spec.md
// §4.5 "Module-initiated JSEP") needs rewritten into the local SDP before
// it is handed back to the client.
type MergeOptions struct {
	Credentials  ICECredentials
	Fingerprint  string // DTLS certificate fingerprint, "sha-256 AA:BB:..."
	Candidates   []string // candidate attribute values (no "a=candidate:" prefix), only when half-trickle
	RTXPayload   map[int]int // original PT -> chosen RTX PT, scanned from [96..127]
}

// Processor is the SDP collaborator's interface.
type Processor interface {
	// Parse extracts the audio/video/data media-line counts, failing with
	// an error the caller maps to JSEP_INVALID_SDP.
	Parse(sdp string) (MediaCounts, error)

	// Anonymize strips candidates, ICE credentials, and DTLS fingerprints
	// from a remote SDP before it is stored as the handle's remote SDP.
	Anonymize(sdp string) (string, error)

	// Merge rewrites a module-produced local SDP, adding ICE credentials,
	// fingerprint, and (half-trickle only) candidate lines plus any RTX
	// payload types chosen for negotiated codecs.
	Merge(sdp string, opts MergeOptions) (string, error)

	// ChooseRTXPayloads scans the free payload-type range [96,127] and
	// returns one RTX PT per negotiated PT needing RFC4588 retransmission.
	ChooseRTXPayloads(negotiated []int) map[int]int
}

// Default is the pion/sdp/v3-backed Processor every build of this core
// wires in; there is no second implementation, but it stays behind the
// interface so tests can substitute a scripted one.
type Default struct{}

func (Default) Parse(sdp string) (MediaCounts, error) {
	var doc psdp.SessionDescription
	if err := doc.Unmarshal([]byte(sdp)); err != nil {
		return MediaCounts{}, fmt.Errorf("sdpproc: parse: %w", err)
	}
	if len(doc.MediaDescriptions) == 0 {
		return MediaCounts{}, fmt.Errorf("sdpproc: no media descriptions")
	}

	var mc MediaCounts
	for _, md := range doc.MediaDescriptions {
		switch md.MediaName.Media {
		case "audio":
			mc.Audio++
		case "video":
			mc.Video++
		case "application":
			mc.Data++
			for _, proto := range md.MediaName.Protos {
				if strings.Contains(strings.ToUpper(proto), "SCTP") {
					mc.HasSCTP = true
				}
			}
		}
	}
	return mc, nil
}

func (Default) Anonymize(sdp string) (string, error) {
	var doc psdp.SessionDescription
	if err := doc.Unmarshal([]byte(sdp)); err != nil {
		return "", fmt.Errorf("sdpproc: anonymize parse: %w", err)
	}

	strip := func(attrs []psdp.Attribute) []psdp.Attribute {
		out := attrs[:0]
		for _, a := range attrs {
			switch a.Key {
			case "candidate", "ice-ufrag", "ice-pwd", "fingerprint", "end-of-candidates":
				continue
			}
			out = append(out, a)
		}
		return out
	}

	doc.Attributes = strip(doc.Attributes)
	for _, md := range doc.MediaDescriptions {
		md.Attributes = strip(md.Attributes)
	}

	out, err := doc.Marshal()
	if err != nil {
		return "", fmt.Errorf("sdpproc: anonymize marshal: %w", err)
	}
	return string(out), nil
}

func (Default) Merge(sdp string, opts MergeOptions) (string, error) {
	var doc psdp.SessionDescription
	if err := doc.Unmarshal([]byte(sdp)); err != nil {
		return "", fmt.Errorf("sdpproc: merge parse: %w", err)
	}

	attrs := append([]psdp.Attribute{}, doc.Attributes...)
	if opts.Credentials.Ufrag != "" {
		attrs = append(attrs, psdp.Attribute{Key: "ice-ufrag", Value: opts.Credentials.Ufrag})
		attrs = append(attrs, psdp.Attribute{Key: "ice-pwd", Value: opts.Credentials.Pwd})
	}
	if opts.Fingerprint != "" {
		attrs = append(attrs, psdp.Attribute{Key: "fingerprint", Value: opts.Fingerprint})
	}
	for _, cand := range opts.Candidates {
		attrs = append(attrs, psdp.Attribute{Key: "candidate", Value: cand})
	}
	doc.Attributes = attrs

	for _, md := range doc.MediaDescriptions {
		for orig, rtx := range opts.RTXPayload {
			origStr := strconv.Itoa(orig)
			for _, fmtID := range md.MediaName.Formats {
				if fmtID != origStr {
					continue
				}
				md.MediaName.Formats = append(md.MediaName.Formats, strconv.Itoa(rtx))
				md.Attributes = append(md.Attributes,
					psdp.Attribute{Key: "rtpmap", Value: fmt.Sprintf("%d rtx/90000", rtx)},
					psdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d apt=%d", rtx, orig)},
				)
			}
		}
	}

	out, err := doc.Marshal()
	if err != nil {
		return "", fmt.Errorf("sdpproc: merge marshal: %w", err)
	}
	return string(out), nil
}

func (Default) ChooseRTXPayloads(negotiated []int) map[int]int {
	used := make(map[int]bool, len(negotiated))
	for _, pt := range negotiated {
		used[pt] = true
	}

	out := make(map[int]int, len(negotiated))
	next := 96
	for _, pt := range negotiated {
		for next <= 127 && used[next] {
			next++
		}
		if next > 127 {
			break
		}
		used[next] = true
		out[pt] = next
		next++
	}
	return out
}
