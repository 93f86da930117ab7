package rtpcaps

import "fmt"

// GetProducerRTPParametersMapping computes the bijection between a
// producer's own rtp_parameters.codecs and the router's RTP capabilities,
// plus the mapped-payload-type table used to rewrite every consumer built
// from this producer. Every non-RTX codec in producerParams must find a
// strict match (MatchCodecs with strict=true) in routerCaps; the first
// matching capability is used.
func GetProducerRTPParametersMapping(producerParams *RTPParameters, routerCaps *RTPCapabilities) (RTPMapping, error) {
	mapping := RTPMapping{}

	for i := range producerParams.Codecs {
		codec := &producerParams.Codecs[i]
		if codec.IsRTX() {
			continue
		}
		matched := false
		for j := range routerCaps.Codecs {
			cap := &routerCaps.Codecs[j]
			if cap.IsRTX() {
				continue
			}
			ok, err := MatchCodecs(codec, cap, true, false)
			if err != nil {
				return RTPMapping{}, err
			}
			if ok {
				mapping.Codecs = append(mapping.Codecs, CodecPayloadTypePair{
					PayloadType:       codec.PayloadType,
					MappedPayloadType: cap.PreferredPayloadType,
				})
				matched = true
				break
			}
		}
		if !matched {
			return RTPMapping{}, fmt.Errorf("unsupported-codec: no router capability matches producer codec %s", codec.MimeType)
		}
	}

	// RTX codecs map by following their apt to the already-mapped payload type.
	for i := range producerParams.Codecs {
		codec := &producerParams.Codecs[i]
		if !codec.IsRTX() {
			continue
		}
		apt := paramInt(codec.Parameters, "apt", -1)
		associatedMapped := -1
		for _, c := range producerParams.Codecs {
			if c.PayloadType == apt {
				for _, pair := range mapping.Codecs {
					if pair.PayloadType == c.PayloadType {
						associatedMapped = pair.MappedPayloadType
					}
				}
			}
		}
		if associatedMapped == -1 {
			return RTPMapping{}, fmt.Errorf("no-rtx-associated-codec: rtx codec %s has no associated media codec", codec.MimeType)
		}
		matched := false
		for j := range routerCaps.Codecs {
			cap := &routerCaps.Codecs[j]
			if cap.IsRTX() && paramInt(cap.Parameters, "apt", -1) == associatedMapped {
				mapping.Codecs = append(mapping.Codecs, CodecPayloadTypePair{
					PayloadType:       codec.PayloadType,
					MappedPayloadType: cap.PreferredPayloadType,
				})
				matched = true
				break
			}
		}
		if !matched {
			return RTPMapping{}, fmt.Errorf("no-rtx-associated-codec: router has no rtx capability for mapped payload type %d", associatedMapped)
		}
	}

	for _, enc := range producerParams.Encodings {
		mapped := enc
		mapped.MappedSSRC = nextMappedSSRC()
		mapping.Encodings = append(mapping.Encodings, mapped)
	}

	return mapping, nil
}

// mappedSSRCCounter hands out synthetic ssrc values for the router-internal
// mapped stream identity, kept distinct from any real wire ssrc.
var mappedSSRCCounter uint32 = 0x10000000

func nextMappedSSRC() uint32 {
	mappedSSRCCounter++
	return mappedSSRCCounter
}

// GetConsumableRTPParameters derives the canonical per-producer parameter
// set that every subsequent consumer is negotiated from: producer codecs
// rewritten to their mapped payload types, encodings rewritten to their
// mapped ssrcs, the router's header extensions intersected against what
// the producer actually sent (restricted to extensions whose capability
// kind matches the producer and whose capability direction can carry media
// toward a consumer, i.e. sendrecv or sendonly), and rtcp.reducedSize
// carried over with cname set from the producer's own cname.
func GetConsumableRTPParameters(producerParams *RTPParameters, routerCaps *RTPCapabilities, mapping RTPMapping, kind Kind) (ConsumableRTPParameters, error) {
	out := ConsumableRTPParameters{}

	payloadTypeByOriginal := make(map[int]int, len(mapping.Codecs))
	for _, pair := range mapping.Codecs {
		payloadTypeByOriginal[pair.PayloadType] = pair.MappedPayloadType
	}

	for i := range producerParams.Codecs {
		codec := producerParams.Codecs[i]
		mappedPT, ok := payloadTypeByOriginal[codec.PayloadType]
		if !ok {
			continue
		}
		params := cloneParameters(codec.Parameters)
		consumable := Codec{
			MimeType:     codec.MimeType,
			PayloadType:  mappedPT,
			ClockRate:    codec.ClockRate,
			Channels:     codec.Channels,
			Parameters:   params,
			RTCPFeedback: codec.RTCPFeedback,
		}
		if consumable.Parameters != nil {
			if _, hasApt := consumable.Parameters["apt"]; hasApt {
				if originalApt, ok := toInt(consumable.Parameters["apt"]); ok {
					if mappedApt, ok := payloadTypeByOriginal[originalApt]; ok {
						consumable.Parameters["apt"] = mappedApt
					}
				}
			}
		}
		out.Codecs = append(out.Codecs, consumable)
	}

	for _, capExt := range routerCaps.HeaderExtensions {
		if capExt.Kind != kind {
			continue
		}
		if capExt.Direction != DirSendRecv && capExt.Direction != DirSendOnly {
			continue
		}
		for _, prodExt := range producerParams.HeaderExtensions {
			if capExt.URI == prodExt.URI {
				out.HeaderExtensions = append(out.HeaderExtensions, HeaderExtension{
					URI:     capExt.URI,
					ID:      capExt.PreferredID,
					Encrypt: capExt.PreferredEncrypt,
					Kind:    capExt.Kind,
				})
				break
			}
		}
	}

	for _, enc := range mapping.Encodings {
		consumableEnc := Encoding{
			SSRC:            enc.MappedSSRC,
			DTX:             enc.DTX,
			ScalabilityMode: enc.ScalabilityMode,
		}
		out.Encodings = append(out.Encodings, consumableEnc)
	}

	out.RTCP = RTCP{
		CNAME:       producerParams.RTCP.CNAME,
		ReducedSize: producerParams.RTCP.ReducedSize,
		Mux:         true,
	}

	return out, nil
}
