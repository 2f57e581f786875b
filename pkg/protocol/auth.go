package protocol

import (
	"crypto/md5"
	"encoding/base64"
)

// ChallengeResponse computes the native authentication answer: the MD5 of
// the challenge followed by the password zero-padded to PasswordPadLen,
// with zero bytes in the digest replaced by 1, base64 encoded.
func ChallengeResponse(challenge []byte, password string) string {
	buf := make([]byte, ChallengeLen+PasswordPadLen)
	copy(buf, challenge)
	copy(buf[ChallengeLen:], password)
	sum := md5.Sum(buf)
	for i := range sum {
		if sum[i] == 0 {
			sum[i] = 1
		}
	}
	return base64.StdEncoding.EncodeToString(sum[:])
}
