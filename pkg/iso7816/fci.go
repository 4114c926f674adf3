package iso7816

import (
	"strings"

	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/tlv"
	"github.com/moov-io/bertlv"
)

// SELECT RESPONSE DATA (ISO/IEC 7816-4 section 7.4):
//
//	P2 return FCI   optional 6F wrapping 62 (FCP) and/or 64 (FMD), or
//	                the same data objects without any template
//	P2 return FCP   62 is mandatory
//	P2 return FMD   64 is mandatory
//
// Responses starting with a tag from the private class (C0 and above) are
// proprietary and kept raw. A Java Card applet answers its SELECT with
// whatever its process method writes, so cardsec never fails a connection on
// an FCI it cannot read: the report just says so.

// FCPTemplate holds the file control parameters, tag 62.
type FCPTemplate struct {
	DataSize         []byte `tlv:"80" fmt:"int"`
	FileSize         []byte `tlv:"81" fmt:"int"`
	Descriptor       []byte `tlv:"82"`
	FileID           []byte `tlv:"83"`
	DFName           []byte `tlv:"84" fmt:"ascii"`
	ProprietaryInfo  []byte `tlv:"85"`
	ShortFileID      []byte `tlv:"88"`
	LifeCycle        []byte `tlv:"8A"`
	SecurityCompact  []byte `tlv:"8C"`
	Proprietary      []byte `tlv:"A5"`
	SecurityExpanded []byte `tlv:"AB"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

// FMDTemplate holds the file management data, tag 64.
type FMDTemplate struct {
	ApplicationID []byte `tlv:"4F" fmt:"ascii"`
	Label         []byte `tlv:"50" fmt:"ascii"`
	Discretionary []byte `tlv:"53"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

// FileControlInfo is the decoded data of a SELECT response.
type FileControlInfo struct {
	FCP *FCPTemplate
	FMD *FMDTemplate

	// Unknown holds the data objects of a template-less FCI that belong to
	// neither FCP nor FMD.
	Unknown []bertlv.TLV

	ProprietaryRawData []byte
}

// GetAID returns the DF name, or the application identifier of the FMD.
func (fci *FileControlInfo) GetAID() []byte {
	if aid := fci.DFName(); len(aid) > 0 {
		return aid
	}
	if fci.FMD != nil {
		return fci.FMD.ApplicationID
	}
	return nil
}

// DFName returns tag 84 of the FCP.
func (fci *FileControlInfo) DFName() []byte {
	if fci.FCP == nil {
		return nil
	}
	return fci.FCP.DFName
}

// ApplicationLabel returns tag 50 of the FMD.
func (fci *FileControlInfo) ApplicationLabel() []byte {
	if fci.FMD == nil {
		return nil
	}
	return fci.FMD.Label
}

// ParseSelectData decodes data, the response to a SELECT sent with p2.
// It returns nil when there is nothing to decode.
func ParseSelectData(data []byte, p2 byte) (*FileControlInfo, error) {
	ctrl, _ := SplitSelectP2(p2)
	if len(data) == 0 || ctrl == ReturnNoData {
		return nil, nil
	}
	if data[0] >= 0xC0 {
		return &FileControlInfo{ProprietaryRawData: data}, nil
	}
	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fault.Wrap(fault.KindFormat, "iso7816.ParseSelectData", err)
	}

	fci := &FileControlInfo{}
	switch ctrl {
	case ReturnFCP:
		fci.FCP = &FCPTemplate{}
		return fci, decodeTemplate(packets, "62", fci.FCP)
	case ReturnFMD:
		fci.FMD = &FMDTemplate{}
		return fci, decodeTemplate(packets, "64", fci.FMD)
	}

	if wrapper, ok := topLevel(packets, "6F"); ok {
		packets = wrapper.TLVs
	}
	_, hasFCP := topLevel(packets, "62")
	_, hasFMD := topLevel(packets, "64")
	if hasFCP || hasFMD {
		if hasFCP {
			fci.FCP = &FCPTemplate{}
			if err := decodeTemplate(packets, "62", fci.FCP); err != nil {
				return nil, err
			}
		}
		if hasFMD {
			fci.FMD = &FMDTemplate{}
			if err := decodeTemplate(packets, "64", fci.FMD); err != nil {
				return nil, err
			}
		}
		return fci, nil
	}

	// Template-less: FCP objects first, the rest tried as FMD objects.
	fci.FCP, fci.FMD = &FCPTemplate{}, &FMDTemplate{}
	if err := tlv.UnmarshalFromPackets(packets, fci.FCP); err != nil {
		return nil, err
	}
	rest := fci.FCP.Unknown
	fci.FCP.Unknown = nil
	if err := tlv.UnmarshalFromPackets(rest, fci.FMD); err != nil {
		return nil, err
	}
	fci.Unknown, fci.FMD.Unknown = fci.FMD.Unknown, nil
	return fci, nil
}

func decodeTemplate(packets []bertlv.TLV, tag string, target interface{}) error {
	t, ok := topLevel(packets, tag)
	if !ok {
		return fault.New(fault.KindFormat, "iso7816.ParseSelectData", "template %s missing", tag)
	}
	return tlv.UnmarshalFromPackets(t.TLVs, target)
}

func topLevel(packets []bertlv.TLV, tag string) (bertlv.TLV, bool) {
	for _, p := range packets {
		if strings.EqualFold(p.Tag, tag) {
			return p, true
		}
	}
	return bertlv.TLV{}, false
}
