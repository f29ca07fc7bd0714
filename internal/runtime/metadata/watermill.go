package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// ToWatermill copies md into a Watermill metadata map.
func ToWatermill(md Metadata) message.Metadata {
	wm := make(message.Metadata, len(md))
	for k, v := range md {
		wm[k] = v
	}
	return wm
}
