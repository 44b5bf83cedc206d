package tencent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	asr "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/asr/v20190614"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/regions"
	tmt "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tmt/v20180321"
)

// 一句话识别最长 60 秒，base64 前不超过 3MB
const maxSentenceBytes = 3 * 1024 * 1024

// DefaultEngine 16k 采样率的中英粤多语种引擎
const DefaultEngine = "16k_zh"

var ErrAudioTooLarge = errors.New("audio exceeds sentence recognition limit")

type TencentClient interface {
	// Transcribe 一句话识别，format 为 wav/mp3/pcm 等
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
	// Translate 把文本翻译成 target 语言，返回译文
	Translate(ctx context.Context, text, target string) (string, error)
}

type TencentClientImpl struct {
	asrClient *asr.Client
	tmtClient *tmt.Client
	engine    string
}

var _ TencentClient = (*TencentClientImpl)(nil)

func NewClient(secretID, secretKey string) (*TencentClientImpl, error) {
	credential := common.NewCredential(secretID, secretKey)

	cpf := profile.NewClientProfile()
	cpf.HttpProfile.ReqMethod = "POST"
	cpf.HttpProfile.ReqTimeout = 10 // 秒
	cpf.HttpProfile.Endpoint = "asr.tencentcloudapi.com"

	asrClient, err := asr.NewClient(credential, regions.Shanghai, cpf)
	if err != nil {
		log.Error().Err(err).Msg("new tencent asr client error")
		return nil, err
	}
	tmtClient, err := tmt.NewClient(credential, regions.Guangzhou, profile.NewClientProfile())
	if err != nil {
		log.Error().Err(err).Msg("new tencent tmt client error")
		return nil, err
	}

	return &TencentClientImpl{asrClient: asrClient, tmtClient: tmtClient, engine: DefaultEngine}, nil
}

func (t *TencentClientImpl) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if len(audio) > maxSentenceBytes {
		return "", ErrAudioTooLarge
	}

	request := asr.NewSentenceRecognitionRequest()
	request.EngSerViceType = common.StringPtr(t.engine)
	request.SourceType = common.Uint64Ptr(1)
	request.VoiceFormat = common.StringPtr(format)
	request.Data = common.StringPtr(base64.StdEncoding.EncodeToString(audio))
	request.DataLen = common.Int64Ptr(int64(len(audio)))

	resp, err := t.asrClient.SentenceRecognitionWithContext(ctx, request)
	if err != nil {
		log.Error().Err(err).Msg("failed to send sentence recognition request")
		return "", fmt.Errorf("sentence recognition failed: %w", err)
	}
	if resp.Response == nil || resp.Response.Result == nil {
		return "", errors.New("sentence recognition returned no result")
	}
	return strings.TrimSpace(*resp.Response.Result), nil
}

func (t *TencentClientImpl) Translate(ctx context.Context, text, target string) (string, error) {
	projectID := int64(0)

	detect := tmt.NewLanguageDetectRequest()
	detect.Text = &text
	detect.ProjectId = &projectID
	detected, err := t.tmtClient.LanguageDetectWithContext(ctx, detect)
	if err != nil {
		return "", fmt.Errorf("language detect failed: %w", err)
	}
	source := "auto"
	if detected.Response != nil && detected.Response.Lang != nil {
		source = *detected.Response.Lang
	}
	if source == target {
		return text, nil
	}

	request := tmt.NewTextTranslateRequest()
	request.Source = &source
	request.Target = &target
	request.SourceText = &text
	request.ProjectId = &projectID
	response, err := t.tmtClient.TextTranslateWithContext(ctx, request)
	if err != nil {
		log.Error().Err(err).Msg("failed to send translate request")
		return "", fmt.Errorf("text translate failed: %w", err)
	}
	if response.Response == nil || response.Response.TargetText == nil {
		return "", errors.New("text translate returned no result")
	}

	return *response.Response.TargetText, nil
}
