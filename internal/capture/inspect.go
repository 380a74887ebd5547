package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/spf13/afero"
)

// Stats summarizes a capture file.
type Stats struct {
	Format  string
	Packets int
	Bytes   int64
	First   time.Time
	Last    time.Time
}

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// Inspect counts the packets in a pcap or pcapng file.
func Inspect(fs afero.Fs, path string) (*Stats, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}

	var (
		r     packetReader
		stats = &Stats{}
	)
	if bytes.Equal(head, pcapngMagic) {
		stats.Format = "pcapng"
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		stats.Format = "pcap"
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s reader: %w", stats.Format, err)
	}

	for {
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read packet %d: %w", stats.Packets+1, err)
		}
		if stats.Packets == 0 {
			stats.First = ci.Timestamp
		}
		stats.Last = ci.Timestamp
		stats.Packets++
		stats.Bytes += int64(len(data))
	}
	return stats, nil
}
