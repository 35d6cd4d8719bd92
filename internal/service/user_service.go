package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"ledgerbase-go/internal/model"
	"ledgerbase-go/internal/repository"
	"ledgerbase-go/internal/store"
	"ledgerbase-go/pkg/database"
	"ledgerbase-go/pkg/hash"
	"ledgerbase-go/pkg/log"
	"ledgerbase-go/pkg/token"
)

// UserService 接口定义了所有与用户相关的业务操作。
// 用户本身是账本实体：注册追加版本 1，改密追加新版本，注销追加墓碑。
type UserService interface {
	Register(ctx context.Context, username, password, displayName string) (*model.EntityRecord, error)
	Login(ctx context.Context, username, password string) (accessToken, refreshToken string, err error)
	GetProfile(ctx context.Context, userID string) (*model.EntityRecord, error)
	Logout(ctx context.Context, tokenString string) error
	RefreshToken(ctx context.Context, refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	entityStore store.EntityStore
	mirrorRepo  repository.MirrorRepository
	jwtManager  *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(entityStore store.EntityStore, mirrorRepo repository.MirrorRepository, jwtManager *token.JWTManager) UserService {
	return &userService{
		entityStore: entityStore,
		mirrorRepo:  mirrorRepo,
		jwtManager:  jwtManager,
	}
}

// Register 处理用户注册的业务逻辑。
func (s *userService) Register(ctx context.Context, username, password, displayName string) (*model.EntityRecord, error) {
	// 1. 检查用户名是否已被占用
	if taken, err := s.usernameTaken(ctx, username); err != nil {
		return nil, err
	} else if taken {
		return nil, errors.New("用户名已存在")
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 以版本 1 写入账本
	fields := &model.UserFields{
		Username:     username,
		PasswordHash: hashedPassword,
		Role:         "USER", // 默认角色
		DisplayName:  displayName,
	}
	rec, err := s.entityStore.Create(ctx, model.EntityTypeUser, fields)
	if err != nil {
		log.Errorf("[UserService] 注册写入账本失败, username: %s, error: %v", username, err)
		return nil, fmt.Errorf("注册失败: %w", err)
	}
	log.Infof("[UserService] 用户注册成功, username: %s, entityId: %s", username, rec.EntityID)
	return rec, nil
}

// usernameTaken 先查镜像，镜像不可用或未命中时回落到账本标签检索。
func (s *userService) usernameTaken(ctx context.Context, username string) (bool, error) {
	if s.mirrorRepo != nil {
		_, err := s.mirrorRepo.FindByUsername(username)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[UserService] 镜像查询用户名失败, 回落到账本检索: %v", err)
		}
	}

	recs, err := s.entityStore.ListByTag(ctx, model.EntityTypeUser, map[string]string{"username": username}, 1)
	if err != nil {
		return false, fmt.Errorf("查询用户名失败: %w", err)
	}
	return len(recs) > 0, nil
}

// Login 处理用户登录的业务逻辑。
func (s *userService) Login(ctx context.Context, username, password string) (accessToken, refreshToken string, err error) {
	// 1. 解析用户名到实体标识
	rec, err := s.findByUsername(ctx, username)
	if err != nil {
		return "", "", errors.New("invalid credentials")
	}
	userFields, ok := rec.Fields.(*model.UserFields)
	if !ok {
		return "", "", errors.New("invalid credentials")
	}

	// 2. 验证密码
	if !hash.CheckPasswordHash(password, userFields.PasswordHash) {
		return "", "", errors.New("invalid credentials")
	}

	// 3. 生成 access token 和 refresh token
	accessToken, err = s.jwtManager.GenerateToken(rec.EntityID, userFields.Username, userFields.Role)
	if err != nil {
		return "", "", err
	}
	refreshToken, err = s.jwtManager.GenerateRefreshToken(rec.EntityID, userFields.Username, userFields.Role)
	if err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

// findByUsername 解析用户名到当前用户记录。
// 镜像只提供 entityId 的快速定位，权威状态始终从账本解析。
func (s *userService) findByUsername(ctx context.Context, username string) (*model.EntityRecord, error) {
	if s.mirrorRepo != nil {
		row, err := s.mirrorRepo.FindByUsername(username)
		if err == nil {
			return s.entityStore.Read(ctx, row.EntityID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[UserService] 镜像查询用户名失败, 回落到账本检索: %v", err)
		}
	}

	recs, err := s.entityStore.ListByTag(ctx, model.EntityTypeUser, map[string]string{"username": username}, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, store.ErrNotFound
	}
	return recs[0], nil
}

// GetProfile 根据用户标识获取用户当前记录。
func (s *userService) GetProfile(ctx context.Context, userID string) (*model.EntityRecord, error) {
	return s.entityStore.Read(ctx, userID)
}

// Logout 处理用户登出逻辑，将 token 加入 Redis 黑名单。
func (s *userService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	// 使用 Redis 实现一个简单的 token 黑名单。
	// token 的剩余有效期将作为 Redis key 的过期时间。
	expiration := time.Until(claims.ExpiresAt.Time)
	return database.RDB.Set(ctx, "blacklist:"+tokenString, "true", expiration).Err()
}

// RefreshToken 用有效的 refresh token 换发新的令牌对。
func (s *userService) RefreshToken(ctx context.Context, refreshTokenString string) (newAccessToken, newRefreshToken string, err error) {
	claims, err := s.jwtManager.VerifyToken(refreshTokenString)
	if err != nil {
		return "", "", errors.New("invalid refresh token")
	}

	// 确认用户实体仍然存活（未被墓碑）
	rec, err := s.entityStore.Read(ctx, claims.UserID)
	if err != nil {
		return "", "", errors.New("invalid refresh token")
	}
	userFields, ok := rec.Fields.(*model.UserFields)
	if !ok {
		return "", "", errors.New("invalid refresh token")
	}

	newAccessToken, err = s.jwtManager.GenerateToken(rec.EntityID, userFields.Username, userFields.Role)
	if err != nil {
		return "", "", err
	}
	newRefreshToken, err = s.jwtManager.GenerateRefreshToken(rec.EntityID, userFields.Username, userFields.Role)
	if err != nil {
		return "", "", err
	}
	return newAccessToken, newRefreshToken, nil
}
