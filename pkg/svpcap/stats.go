package svpcap

import (
	"io"
	"sort"
	"time"

	"golang.org/x/text/message"

	"github.com/takehaya/svpcap/pkg/svgen"
)

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// PrintSummary writes a human readable line for a generation run.
func PrintSummary(w io.Writer, s *Summary) {
	p := message.NewPrinter(message.MatchLanguage("en"))
	p.Fprintf(w, "%s: %d frames (%d streams x %d iterations), %d bytes, %d samples/s, %v\n",
		s.Output, s.Frames, s.Streams, s.Iterations, s.Bytes, s.SamplingRate, s.Elapsed.Round(time.Millisecond))
}

// PrintReport writes the verify result, one line per stream.
func PrintReport(w io.Writer, path string, r *svgen.Report) {
	p := message.NewPrinter(message.MatchLanguage("en"))
	p.Fprintf(w, "%s: %d records, %d streams, link type %v, snaplen %d\n",
		path, r.Records, len(r.Streams), r.LinkType, r.SnapLen)
	if r.Records > 0 {
		p.Fprintf(w, "  first %s, last %s\n", r.First.Format(timeLayout), r.Last.Format(timeLayout))
	}

	appIDs := make([]int, 0, len(r.AppIDs))
	for id := range r.AppIDs {
		appIDs = append(appIDs, int(id))
	}
	sort.Ints(appIDs)
	for _, id := range appIDs {
		p.Fprintf(w, "  app id 0x%04X: %d records\n", id, r.AppIDs[uint16(id)])
	}

	ids := make([]string, 0, len(r.Streams))
	for id := range r.Streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p.Fprintf(w, "  %s: %d records\n", id, r.Streams[id])
	}
}
