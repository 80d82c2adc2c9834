package server

import (
	"github.com/hsp501/sweeper/pkg/chunkhash"
	"github.com/hsp501/sweeper/pkg/fsutil"
	"github.com/hsp501/sweeper/pkg/hashcache"
	"github.com/hsp501/sweeper/pkg/sizeindex"
)

// session holds one connection's narrowing candidate list, scoped by
// request id and reset on each new accept.
type session struct {
	candidates map[string][]string
}

func newSession() *session {
	return &session{candidates: make(map[string][]string)}
}

// checkHash runs one round of progressive candidate elimination for
// request id r against the client's declared size and chunk hashes,
// initializing the session from idx on first sight of r. It returns the
// surviving candidate path, or "" if the session is exhausted.
func (s *session) checkHash(r string, size int64, clientChunks []chunkhash.Chunk, localMode bool, clientPath string, idx *sizeindex.Index, cache *hashcache.Cache) string {
	candidates, ok := s.candidates[r]
	if !ok {
		candidates = idx.Snapshot(size)
		s.candidates[r] = candidates
	}

	for len(candidates) > 0 {
		p := candidates[0]

		if localMode && p == clientPath {
			candidates = candidates[1:]
			continue
		}

		if candidateMatches(p, clientChunks, cache) {
			s.candidates[r] = candidates
			return p
		}

		candidates = candidates[1:]
	}

	s.candidates[r] = candidates
	return ""
}

// candidateMatches fetches/extends p's cached chunk prefix up to the
// client's chunk count and compares it against the client's chunks,
// stopping extension early on the first disagreement (the optimized rule
// of §4.5: bound per-file work to the first differing chunk).
func candidateMatches(path string, clientChunks []chunkhash.Chunk, cache *hashcache.Cache) bool {
	fi, err := fsutil.Stat(path)
	if err != nil || fi == nil {
		return false
	}

	directory, basename := fsutil.SplitPath(path)
	fid, serverChunks, err := cache.GetFileDetails(directory, basename, fi.Size(), fsutil.MTime(fi))
	if err != nil {
		return false
	}
	if fid == -1 {
		fid = cache.AddFile(directory, basename, fi.Size(), fsutil.MTime(fi))
		if fid == -1 {
			return false
		}
	}

	if !chunkhash.IsDenseSerialPrefix(clientChunks) {
		return false
	}

	target := len(clientChunks)
	if target > chunkhash.Blocks(fi.Size()) {
		target = chunkhash.Blocks(fi.Size())
	}

	common := len(serverChunks)
	if common > len(clientChunks) {
		common = len(clientChunks)
	}
	for i := 0; i < common; i++ {
		if !serverChunks[i].Equal(clientChunks[i]) {
			return false
		}
	}

	for serial := len(serverChunks) + 1; serial <= target; serial++ {
		digest, blockSize, err := chunkhash.BlockHash(path, fi.Size(), serial)
		if err != nil {
			return false
		}
		chunk := chunkhash.Chunk{Serial: serial, BlockSize: blockSize, Hash: digest}
		cache.AddChunkHashes(fid, []chunkhash.Chunk{chunk})
		serverChunks = append(serverChunks, chunk)

		if !chunk.Equal(clientChunks[serial-1]) {
			return false
		}
	}

	return len(clientChunks) <= len(serverChunks)
}
