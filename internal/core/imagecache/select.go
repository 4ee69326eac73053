package imagecache

// selectVariation picks the loaded variation to show for a request at req:
//  1. the original, or the largest width not above req
//  2. otherwise the smallest width above req
//  3. otherwise the width closest to req
//
// A request for Original accepts every width in step 1.
func selectVariation(variations []Variation, req Width) (Variation, bool) {
	var (
		atMost, above, closest       *Variation
		haveAtMost, haveAbove, found bool
	)
	for i := range variations {
		v := &variations[i]
		if v.Status != StatusLoaded || v.Source == nil {
			continue
		}
		found = true

		switch {
		case v.ReqWidth.IsOriginal():
			atMost, haveAtMost = v, true
		case req.IsOriginal() || v.ReqWidth <= req:
			if !haveAtMost || (!atMost.ReqWidth.IsOriginal() && v.ReqWidth > atMost.ReqWidth) {
				atMost, haveAtMost = v, true
			}
		default:
			if !haveAbove || v.ReqWidth < above.ReqWidth {
				above, haveAbove = v, true
			}
		}

		if closest == nil || widthDistance(v.ReqWidth, req) < widthDistance(closest.ReqWidth, req) {
			closest = v
		}
	}

	switch {
	case haveAtMost:
		return *atMost, true
	case haveAbove:
		return *above, true
	case found:
		return *closest, true
	default:
		return Variation{}, false
	}
}

func widthDistance(a, b Width) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}

// renditionFor builds what a consumer should draw for req from entry.
func renditionFor(entry *CacheEntry, req Width) *Rendition {
	if entry == nil {
		return nil
	}
	if v, ok := selectVariation(entry.Variations, req); ok {
		return &Rendition{Source: v.Source, ReqWidth: v.ReqWidth, Blurhash: entry.Blurhash}
	}
	if entry.Blurhash != "" {
		return &Rendition{ReqWidth: req, Blurhash: entry.Blurhash}
	}
	return nil
}

// BestSource returns the best renderable image for url at width: a loaded
// variation when one exists, otherwise a blurhash-only placeholder, otherwise nil.
func (s *Store) BestSource(url string, width Width) *Rendition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return renditionFor(s.cache[url], width)
}
